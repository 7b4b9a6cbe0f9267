package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hatlonely/odm/schema"
)

var entitiesCmd = &cobra.Command{
	Use:   "entities [name]",
	Short: "List entity types, or show the fields of one entity type",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx := context.Background()
		if len(args) == 1 {
			def, err := client.EntityDefinition(ctx, args[0])
			if err != nil {
				return err
			}
			printDefinition(def)
			return nil
		}

		defs, err := client.ListEntityTypes(ctx)
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			color.New(color.FgYellow).Println("no entity types")
			return nil
		}
		cyan := color.New(color.FgCyan, color.Bold)
		for _, def := range defs {
			cyan.Printf("%s", def.Name)
			fmt.Printf("  id=%s fields=%d", def.IDGenerator, len(def.Fields))
			if def.Description != "" {
				fmt.Printf("  %s", def.Description)
			}
			fmt.Println()
		}
		return nil
	},
}

func printDefinition(def *schema.EntityDefinition) {
	color.New(color.FgCyan, color.Bold).Printf("%s", def.Name)
	fmt.Printf(" (id=%s)\n", def.IDGenerator)
	if def.Description != "" {
		fmt.Println(def.Description)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tTYPE\tFLAGS")
	for _, f := range def.Fields {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, f.Type, flags(f))
	}
	w.Flush()
}

func flags(f schema.FieldDefinition) string {
	var out string
	add := func(ok bool, name string) {
		if !ok {
			return
		}
		if out != "" {
			out += ","
		}
		out += name
	}
	add(f.Required, "required")
	add(f.Nullable, "nullable")
	add(f.Unique, "unique")
	add(f.Indexed, "indexed")
	return out
}
