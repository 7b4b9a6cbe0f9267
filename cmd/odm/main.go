package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hatlonely/odm"
	"github.com/hatlonely/odm/cfg"
	"github.com/hatlonely/odm/ref"
	"github.com/hatlonely/odm/transport"
)

var (
	configPath string
	baseURL    string
)

var rootCmd = &cobra.Command{
	Use:   "odm",
	Short: "Inspect and query a document store",
	Long: `odm talks to a document store over its REST interface.

Examples:

  odm entities
  odm entities product
  odm query product --filter price:gt:10 --order price --desc --limit 5
  odm count product --filter name:eq:Widget
  odm serve --addr :8080
`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env 不存在时直接使用环境变量
		_ = godotenv.Load()
		if configPath == "" {
			configPath = os.Getenv("ODM_CONFIG")
		}
		if baseURL == "" {
			baseURL = os.Getenv("ODM_BASE_URL")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "client config file (json/yaml/toml/ini), defaults to $ODM_CONFIG")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "store base url, defaults to $ODM_BASE_URL")

	rootCmd.AddCommand(entitiesCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(serveCmd)
}

// newClient 优先使用配置文件，否则按 base-url 创建 HTTP 客户端
func newClient() (*odm.Client, error) {
	if configPath != "" {
		return odm.NewFromFile(configPath)
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return odm.NewWithOptions(&odm.Options{
		Transport: &ref.TypeOptions{
			Namespace: transport.Namespace,
			Type:      "HTTPTransport",
			Options:   cfg.NewNode(map[string]any{"baseURL": baseURL}),
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
