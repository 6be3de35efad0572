// cartorioctl runs the operational tasks of the cartório backend against the
// same DB_* / REDIS_ADDRESS environment the server uses.
//
// Usage (from backend directory):
//
//	go run ./cmd/cartorioctl seed --admin tabeliao --name "Ana Tabeliã"
//	go run ./cmd/cartorioctl session issue tabeliao
//	go run ./cmd/cartorioctl export-livro 3 -o livro-3.xlsx
//	go run ./cmd/cartorioctl scan-expiry --days 30
//	go run ./cmd/cartorioctl outbox status
package main

import (
	"fmt"
	"os"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "cartorioctl",
	Short:         "Operational tasks for the cartório backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// connectDB opens MySQL; commands that touch sessions or caches also need Redis.
func connectDB(withRedis bool) error {
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		return fmt.Errorf("database not initialized; set DB_* env vars")
	}
	if withRedis {
		config.ConnectRedisWithRetry()
	}
	return nil
}

func main() {
	rootCmd.AddCommand(seedCmd, sessionCmd, exportLivroCmd, scanExpiryCmd, outboxCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
