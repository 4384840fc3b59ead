package cmd

import (
	"fmt"
	"time"

	"download-tracker/app/auth"
	"download-tracker/app/config"

	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenScope   string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发 API 访问令牌",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()

		token, err := auth.NewJWTService(cfg.JWT).GenerateToken(tokenSubject, tokenScope, tokenTTL)
		if err != nil {
			return fmt.Errorf("签发令牌失败: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "令牌调用方标识")
	tokenCmd.Flags().StringVar(&tokenScope, "scope", "tasks", "令牌权限范围")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "有效期，0 表示使用配置的过期时间")
	rootCmd.AddCommand(tokenCmd)
}
