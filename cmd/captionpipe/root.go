package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "captionpipe",
	Short: "Multi-model image captioning pipeline",
	Long: "Captionpipe captions image datasets with several hosted vision models, merges the\n" +
		"results into one caption per image, and optionally renders sketches with a\n" +
		"pretrained image-to-sketch network.",
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./captionpipe.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	viper.SetEnvPrefix("CAPTIONPIPE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Bare provider key names still work alongside the prefixed forms.
	_ = viper.BindEnv("gemini.api_key", "CAPTIONPIPE_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = viper.BindEnv("groq.api_key", "CAPTIONPIPE_GROQ_API_KEY", "GROQ_API_KEY")
	_ = viper.BindEnv("openai.api_key", "CAPTIONPIPE_OPENAI_API_KEY", "OPENAI_API_KEY")

	viper.SetDefault("models.gemini", "gemini-2.5-flash")
	viper.SetDefault("models.groq", "llama-3.1-8b-instant")
	viper.SetDefault("models.openai", "gpt-4o-mini")
	viper.SetDefault("models.merge", "gemini-2.5-flash")
	viper.SetDefault("prompt", "")
	viper.SetDefault("delays.caption", time.Second)
	viper.SetDefault("delays.image", 500*time.Millisecond)
	viper.SetDefault("sketch.dir", "informative-drawings")
	viper.SetDefault("sketch.model", "anime_style")
	viper.SetDefault("sketch.checkpoints", "")
	viper.SetDefault("sketch.python", "python3")

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("captionpipe")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	_ = viper.ReadInConfig()
}

// newLogger builds the CLI logger. Progress output goes through the event
// listener; the logger carries diagnostics and is quiet unless -v is set.
func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}
