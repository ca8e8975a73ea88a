package wxvault

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	app "github.com/zaylenc/wxvault/internal/wxvault"
)

var (
	configPath string
	dataDir    string
	workDir    string
	dataKey    string
	imgKey     string
	httpAddr   string
	account    string
)

func init() {
	// windows only
	cobra.MousetrapHelpText = ""

	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "debug")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.Flags().StringVar(&account, "account", "", "account name")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "decrypted database directory")
	rootCmd.Flags().StringVar(&workDir, "work-dir", "", "output and cache directory")
	rootCmd.Flags().StringVar(&dataKey, "key", "", "database key (64 hex chars)")
	rootCmd.Flags().StringVar(&imgKey, "img-key", "", "image aes key")
	rootCmd.Flags().StringVar(&httpAddr, "addr", "", "http listen address")
	rootCmd.PersistentPreRun = initLog
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Err(err).Msg("command execution failed")
	}
}

var rootCmd = &cobra.Command{
	Use:   "wxvault",
	Short: "wxvault",
	Long:  `wxvault serves decrypted WeChat data over HTTP`,
	Args:  cobra.MinimumNArgs(0),
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	Run: Root,
}

func Root(cmd *cobra.Command, args []string) {
	a, err := app.New(configPath)
	if err != nil {
		log.Err(err).Msg("failed to load config")
		return
	}

	c := a.Context()
	if account != "" {
		c.SwitchAccount(account)
	}
	if dataDir != "" {
		c.SetDataDir(dataDir)
	}
	if workDir != "" {
		c.WorkDir = workDir
	}
	if dataKey != "" {
		c.SetDataKey(dataKey)
	}
	if imgKey != "" {
		c.ImgKey = imgKey
	}
	if httpAddr != "" {
		c.SetHTTPAddr(httpAddr)
	}

	if err := a.Run(); err != nil {
		log.Err(err).Msg("failed to run wxvault instance")
	}
}
