// internal/patterns/catalog.go
package patterns

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/models"
)

//go:embed default_patterns.yaml
var defaultPatterns []byte

// Catalog 只读的模式库，加载后不再修改，可并发读取
type Catalog struct {
	patterns map[string]models.Pattern
	order    []string
}

type catalogFile struct {
	Patterns []models.Pattern `yaml:"patterns"`
}

// LoadDefault 加载内置模式库
func LoadDefault() (*Catalog, error) {
	return Parse(defaultPatterns)
}

// Load 从YAML文件加载模式库，path为空时使用内置模式库
func Load(path string) (*Catalog, error) {
	if path == "" {
		return LoadDefault()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取模式库失败: %w", err)
	}
	return Parse(raw)
}

// Parse 解析YAML格式的模式库
func Parse(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("patterns.yaml: %w", err)
	}
	return New(file.Patterns)
}

// New 用给定的模式构建模式库
func New(patterns []models.Pattern) (*Catalog, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("模式库为空")
	}

	c := &Catalog{
		patterns: make(map[string]models.Pattern, len(patterns)),
		order:    make([]string, 0, len(patterns)),
	}
	for _, p := range patterns {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.patterns[p.ID]; dup {
			return nil, fmt.Errorf("模式id重复: %s", p.ID)
		}
		c.patterns[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c, nil
}

// Lookup 按种子查找模式
func (c *Catalog) Lookup(seed string) (models.Pattern, bool) {
	p, ok := c.patterns[seed]
	return p, ok
}

// ListAll 按定义顺序返回全部模式
func (c *Catalog) ListAll() []models.Pattern {
	out := make([]models.Pattern, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.patterns[id])
	}
	return out
}
