package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaywire/relay/pkg/client"
)

var (
	tokenSecret string
	tokenType   string
	tokenData   string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a signed event token for manual testing",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "shared signing secret")
	tokenCmd.Flags().StringVar(&tokenType, "type", "", "event type, e.g. call.created")
	tokenCmd.Flags().StringVar(&tokenData, "data", "{}", "event data as JSON")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 5*time.Minute, "token expiry (0 for none)")
	tokenCmd.MarkFlagRequired("secret")
	tokenCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(tokenData), &data); err != nil {
		return fmt.Errorf("invalid --data JSON: %w", err)
	}

	c := client.New("", tokenSecret, client.WithTokenTTL(tokenTTL))
	token, err := c.SignToken(tokenType, data)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
