package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"logbook/api/internal/doctree"
	"logbook/api/internal/mentions"
	"logbook/api/internal/render"
	"logbook/api/internal/typeahead"
)

func newRenderCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "render <file|->",
		Short: "Render a stored entry document as html, markdown, text or a display tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			display := render.RenderJSON(data)
			out := cmd.OutOrStdout()
			switch format {
			case "html":
				fmt.Fprintln(out, render.HTML(display))
			case "markdown", "md":
				md, err := render.Markdown(display)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, md)
			case "text":
				fmt.Fprintln(out, render.PlainText(display))
			case "display":
				return writeJSON(out, display)
			default:
				return fmt.Errorf("unknown format %q (want html, markdown, text or display)", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "html", "output format: html, markdown, text, display")
	return cmd
}

func newExtractCommand() *cobra.Command {
	var entityType string
	cmd := &cobra.Command{
		Use:   "extract <file|->",
		Short: "List the mentions of a stored entry document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			refs, err := mentions.Extract(data)
			if err != nil {
				return err
			}
			if entityType != "" {
				t, err := doctree.ParseEntityType(entityType)
				if err != nil {
					return err
				}
				refs = mentions.ByType(refs, t)
			}
			return writeJSON(cmd.OutOrStdout(), refs)
		},
	}
	cmd.Flags().StringVarP(&entityType, "type", "t", "", "only list mentions of this entity type")
	return cmd
}

type matchOutput struct {
	Mention *typeahead.Match `json:"mention"`
	Slash   *typeahead.Match `json:"slash"`
}

func newMatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "match <text>",
		Short: "Show the trigger the text before a cursor would open",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return writeJSON(cmd.OutOrStdout(), matchOutput{
				Mention: typeahead.MatchMention(text),
				Slash:   typeahead.MatchSlash(text),
			})
		},
	}
}

func newImportHTMLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import-html <file|->",
		Short: "Convert an HTML fragment into an entry document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			doc, err := doctree.ParseHTMLFragment(render.Sanitize(string(data)))
			if err != nil {
				return err
			}
			payload, err := doc.Serialize()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return nil
		},
	}
}
