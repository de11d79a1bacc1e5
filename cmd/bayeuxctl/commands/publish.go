package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sioux-io/gobayeux"
)

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <channel> <json>",
		Short: "Publish one JSON document to a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := json.RawMessage(args[1])
			if !json.Valid(data) {
				return fmt.Errorf("data is not valid JSON: %s", args[1])
			}
			ctx := cmd.Context()
			return gobayeux.WithSession(ctx, nil, func(s *gobayeux.Session) error {
				response, err := s.Publish(ctx, gobayeux.Channel(args[0]), data)
				if err != nil {
					return err
				}
				renderMessages(cmd.OutOrStdout(), response)
				return nil
			}, clientOptions()...)
		},
	}
}
