package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gosuda/toolgate/internal/vault"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new base64 master key for checkpoint encryption",
		RunE: func(_ *cobra.Command, _ []string) error {
			key, err := vault.GenerateKey()
			if err != nil {
				return err
			}

			fmt.Println(key)
			return nil
		},
	}
}
