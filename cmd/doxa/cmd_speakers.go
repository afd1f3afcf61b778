package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/doxa/internal/transcript"
)

type speakerInfo struct {
	Name    string `json:"name"`
	Turns   int    `json:"turns"`
	Default bool   `json:"default_target"`
}

func newSpeakersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speakers",
		Short: "List the speakers in a transcript file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			jsonOut, _ := cmd.Flags().GetBool("json")

			entries, err := transcript.ParseFile(file)
			if err != nil {
				return err
			}
			infos := speakerInfos(entries)

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(infos)
			}
			if len(infos) == 0 {
				fmt.Fprintln(out, "No speakers found.")
				return nil
			}
			for _, s := range infos {
				marker := ""
				if s.Default {
					marker = "  (default target)"
				}
				fmt.Fprintf(out, "%-30s %4d turns%s\n", s.Name, s.Turns, marker)
			}
			return nil
		},
	}

	cmd.Flags().StringP("file", "f", "", "Transcript file to inspect")
	cmd.Flags().Bool("json", false, "Output as JSON")
	cmd.MarkFlagRequired("file")

	return cmd
}

func speakerInfos(entries []transcript.Entry) []speakerInfo {
	turns := make(map[string]int)
	for _, e := range entries {
		turns[e.Speaker]++
	}
	def, _ := transcript.DefaultTarget(entries)

	infos := []speakerInfo{}
	for _, name := range transcript.Speakers(entries) {
		infos = append(infos, speakerInfo{Name: name, Turns: turns[name], Default: name == def})
	}
	return infos
}
