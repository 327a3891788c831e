package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/warp/reservation-engine/api"
	"github.com/warp/reservation-engine/campus"
	"github.com/warp/reservation-engine/factory"
	"github.com/warp/reservation-engine/generic"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			applied, err := store.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: schema up to date\n", c.dbPath)
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied migration %d\n", v)
			}
			return nil
		},
	}
}

func (c *cli) seedCmd() *cobra.Command {
	var (
		catalogFile string
		noUsers     bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo campus or a catalog file",
		Long: `Load resources and users into the database

Without --catalog the embedded demo campus is loaded. A catalog file is a
JSON array in the same format as campus/catalog.json. The demo users are
loaded in both cases unless --no-users is given. Seeding is idempotent.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resources, err := campus.DemoCatalog()
			if err != nil {
				return err
			}
			if catalogFile != "" {
				data, err := os.ReadFile(catalogFile)
				if err != nil {
					return fmt.Errorf("read catalog: %w", err)
				}
				resources, err = factory.NewPolicyFactory().ParseCatalog(data)
				if err != nil {
					return err
				}
			}
			var users []generic.User
			if !noUsers {
				users = campus.DemoUsers()
			}

			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := api.Seed(cmd.Context(), store, resources, users)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d resources and %d users\n", result.Resources, result.Users)
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "Catalog JSON file (default: demo campus)")
	cmd.Flags().BoolVar(&noUsers, "no-users", false, "Skip the demo users")
	return cmd
}

func (c *cli) resourcesCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:     "resources",
		Aliases: []string{"ls"},
		Short:   "List the catalog",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			resources, err := store.ListResources(cmd.Context(), generic.ResourceKind(strings.ToUpper(kind)))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tNAME\tLOCATION\tCAPACITY\tUNITS\tPOLICY")
			for _, r := range resources {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					r.ID, r.Kind, r.Name, r.Location, r.Capacity, r.AvailableUnits(), r.Policy.Name)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Only list one kind (seat, room, equipment, lab)")
	return cmd
}
