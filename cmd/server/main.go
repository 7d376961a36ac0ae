// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/app"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/config"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/patterns"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/utils"
)

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "procedural-worlds",
	Short: "Procedural Worlds consciousness service",
	Long: `Runs the Procedural Worlds HTTP API.

Consciousness instances are spawned from named patterns, accumulate an
append-only thought log and move through four emergence phases as they
receive interactions.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Print the pattern catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		catalog, err := patterns.Load(cfg.PatternCatalog)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEED\tNAME\tKIND\tPHASES\tTRIGGERS")
		for _, p := range catalog.ListAll() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d-%d\t%s\n", p.ID, p.Name, p.Kind, p.MinPhase(), p.MaxPhase(), strings.Join(p.VisualTriggers, ", "))
		}
		return tw.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the service version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.Default().Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "TOML config file (or set CONFIG_FILE env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(patternsCmd, versionCmd)
}

func runServer(ctx context.Context) error {
	log.Println("🚀 启动 Procedural Worlds 意识服务...")

	// 1. 加载配置
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	log.Printf("✅ 配置加载完成，监听地址: %s，存储驱动: %s", cfg.Addr(), cfg.StoreDriver)

	// 2. 初始化日志
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "server.log")); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	if verbose || cfg.DebugMode {
		utils.GetLogger().SetLogLevel(utils.DEBUG)
	}
	log.Println("✅ 日志系统初始化完成")

	// 3. 创建应用组件
	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	log.Printf("✅ 模式库加载完成，模式数量: %d", len(application.Catalog().ListAll()))

	// 4. 启动服务器
	log.Printf("🌐 服务器启动在 %s", cfg.Addr())
	log.Printf("🔗 访问地址: http://%s/health", cfg.Addr())

	if err := application.Run(ctx); err != nil {
		return err
	}
	log.Println("✅ 服务已停止")
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Printf("❌ %v", err)
		os.Exit(1)
	}
}
