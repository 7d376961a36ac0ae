// internal/validation/validator.go
package validation

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	apperrors "github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/errors"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/models"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://procedural-worlds.local/schemas/"

// Validator 使用JSON Schema校验请求体
type Validator struct {
	spawn       *jsonschema.Schema
	interaction *jsonschema.Schema
}

// NewValidator 编译内置的请求schema
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true

	for _, name := range []string{"spawn.schema.json", "interaction.schema.json"} {
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("读取schema失败 %s: %w", name, err)
		}
		if err := c.AddResource(schemaBase+name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("加载schema失败 %s: %w", name, err)
		}
	}

	spawn, err := c.Compile(schemaBase + "spawn.schema.json")
	if err != nil {
		return nil, fmt.Errorf("编译 spawn schema 失败: %w", err)
	}
	interaction, err := c.Compile(schemaBase + "interaction.schema.json")
	if err != nil {
		return nil, fmt.Errorf("编译 interaction schema 失败: %w", err)
	}

	return &Validator{spawn: spawn, interaction: interaction}, nil
}

// DecodeSpawn 校验并解析生成请求
func (v *Validator) DecodeSpawn(raw []byte) (*models.SpawnRequest, error) {
	var req models.SpawnRequest
	if err := v.decode(v.spawn, raw, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodeInteraction 校验并解析互动请求
func (v *Validator) DecodeInteraction(raw []byte) (*models.InteractionRequest, error) {
	var req models.InteractionRequest
	if err := v.decode(v.interaction, raw, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (v *Validator) decode(schema *jsonschema.Schema, raw []byte, out interface{}) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return apperrors.NewValidationError("请求体不是合法的JSON", err)
	}

	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return apperrors.NewValidationError(describe(verr), nil)
		}
		return apperrors.NewValidationError("请求体校验失败", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.NewValidationError("请求体解析失败", err)
	}
	return nil
}

// describe 把校验错误树压平成一行，只保留叶子节点
func describe(verr *jsonschema.ValidationError) string {
	var leaves []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			leaves = append(leaves, loc+": "+e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	sort.Strings(leaves)
	return strings.Join(leaves, "; ")
}
