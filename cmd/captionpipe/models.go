package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"captionpipe/sketch"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List configured caption models and available sketch styles",
	RunE:  listModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func listModels(cmd *cobra.Command, args []string) error {
	fmt.Fprintln(os.Stderr, "Caption models:")
	providers := []struct {
		name     string
		keyName  string
		modelKey string
	}{
		{"gemini", "gemini.api_key", "models.gemini"},
		{"groq", "groq.api_key", "models.groq"},
		{"openai", "openai.api_key", "models.openai"},
	}
	for _, p := range providers {
		status := "no API key"
		if viper.GetString(p.keyName) != "" {
			status = "configured"
		}
		fmt.Fprintf(os.Stderr, "  %-8s %s (%s)\n", p.name, viper.GetString(p.modelKey), status)
	}
	fmt.Fprintf(os.Stderr, "  merge    %s\n", viper.GetString("models.merge"))

	fmt.Fprintln(os.Stderr, "\nSketch styles:")
	gen, err := sketch.NewGenerator(viper.GetString("sketch.model"), viper.GetString("sketch.dir"),
		sketch.WithCheckpointsDir(viper.GetString("sketch.checkpoints")))
	if err != nil {
		return err
	}
	styles, err := gen.Models()
	if err != nil {
		fmt.Fprintf(os.Stderr, "  none found (%v)\n", err)
		return nil
	}
	if len(styles) == 0 {
		fmt.Fprintln(os.Stderr, "  none found")
		return nil
	}
	for _, s := range styles {
		marker := " "
		if s == gen.Model() {
			marker = "*"
		}
		fmt.Fprintf(os.Stderr, "  %s %s\n", marker, s)
	}
	return nil
}
