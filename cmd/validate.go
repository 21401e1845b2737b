package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-acquirer/internal/site"
)

var errInvalidConfigs = errors.New("one or more site configs are invalid")

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check site config files without crawling",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := false
			for _, path := range args {
				raw, err := site.ReadRaw(path)
				if err != nil {
					failed = true
					fmt.Fprintf(out, "%s: %v\n", path, err)
					continue
				}
				ok, errs := site.Validate(raw)
				if ok {
					fmt.Fprintf(out, "%s: ok\n", path)
					continue
				}
				failed = true
				fmt.Fprintf(out, "%s: invalid\n", path)
				for _, verr := range errs {
					fmt.Fprintf(out, "  - %v\n", verr)
				}
			}
			if failed {
				return errInvalidConfigs
			}
			return nil
		},
	}
}
