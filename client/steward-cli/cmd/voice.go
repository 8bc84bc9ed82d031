package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var voiceCmd = &cobra.Command{
	Use:   "voice",
	Short: "Upload and search voice notes",
}

var (
	uploadOpts  UploadOptions
	searchScope string
	searchProj  string
	searchTopK  int
)

var voiceUploadCmd = &cobra.Command{
	Use:   "upload [audio-file]",
	Short: "Upload an audio file to the voice pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		note, err := newClient().UploadVoice(cmd.Context(), args[0], uploadOpts)
		if err != nil {
			return err
		}
		if rawJSON() {
			return printJSON(note)
		}
		fmt.Println(renderNote(*note, 1))
		return nil
	},
}

var voiceSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Semantic search over the voice notes you can see",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := newClient().SearchVoice(cmd.Context(), args[0], searchScope, searchProj, searchTopK)
		if err != nil {
			return err
		}
		if rawJSON() {
			return printJSON(results)
		}
		if len(results) == 0 {
			fmt.Println("No matching notes.")
			return nil
		}
		for _, r := range results {
			fmt.Println(renderNote(r.Note, r.Similarity))
		}
		return nil
	},
}

func init() {
	uf := voiceUploadCmd.Flags()
	uf.StringVar(&uploadOpts.Visibility, "visibility", "private", "private, team, project or public")
	uf.StringVar(&uploadOpts.Project, "project", "", "project context")
	uf.StringVar(&uploadOpts.ContactID, "contact", "", "related contact id")
	uf.StringSliceVar(&uploadOpts.SharedWith, "share-with", nil, "users who can also see a private note")

	sf := voiceSearchCmd.Flags()
	sf.StringVar(&searchScope, "scope", "", "limit to one visibility scope")
	sf.StringVar(&searchProj, "project", "", "limit to a project")
	sf.IntVar(&searchTopK, "top-k", 0, "maximum results (server default when 0)")

	voiceCmd.AddCommand(voiceUploadCmd, voiceSearchCmd)
	rootCmd.AddCommand(voiceCmd)
}
