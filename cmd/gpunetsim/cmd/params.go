package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newParamsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Print the compute parameters a run would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := paramsFromViper(v)
			if err != nil {
				return err
			}
			bz, err := json.MarshalIndent(params, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(bz))
			return err
		},
	}
	addParamsFlags(cmd.Flags())
	return cmd
}
