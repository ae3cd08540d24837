package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	cli "gopkg.in/urfave/cli.v1"
	yaml "gopkg.in/yaml.v2"

	"chatbot/chat"
	"chatbot/db"
	"chatbot/model"
	"chatbot/rpc"
	"chatbot/speech"
)

var (
	OriginCommandHelpTemplate = `{{.Name}}{{if .Subcommands}} command{{end}}{{if .Flags}} [command options]{{end}} {{.ArgsUsage}}
{{if .Description}}{{.Description}}
{{end}}{{if .Subcommands}}
SUBCOMMANDS:
  {{range .Subcommands}}{{.Name}}{{with .ShortName}}, {{.}}{{end}}{{ "\t" }}{{.Usage}}
  {{end}}{{end}}{{if .Flags}}
OPTIONS:
{{range $.Flags}}   {{.}}
{{end}}
{{end}}`
)

var app *cli.App

var (
	configPathFlag = cli.StringFlag{
		Name:  "config",
		Usage: "config path",
		Value: "./config.yml",
	}
	debugLogFlag = cli.BoolFlag{
		Name:  "debug",
		Usage: "verbose logging",
	}
)

func init() {
	app = cli.NewApp()
	app.Version = "v1.0.0"
	app.Commands = []cli.Command{
		commandStart,
	}

	cli.CommandHelpTemplate = OriginCommandHelpTemplate
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var commandStart = cli.Command{
	Name:  "start",
	Usage: "start the chat backend",
	Flags: []cli.Flag{
		configPathFlag,
		debugLogFlag,
	},
	Action: Start,
}

type AppConfig struct {
	Port          string   `yaml:"port"`
	MongoURI      string   `yaml:"mongo_uri"`
	OllamaURL     string   `yaml:"ollama_url"`
	HostedURL     string   `yaml:"hosted_url"`
	HostedModels  []string `yaml:"hosted_models"`
	TTSURL        string   `yaml:"tts_url"`
	TTSKey        string   `yaml:"tts_key"`
	TTSLanguage   string   `yaml:"tts_language"`
	TTSSpeaker    string   `yaml:"tts_speaker"`
	TTSCacheDir   string   `yaml:"tts_cache_dir"`
	AudioDir      string   `yaml:"audio_dir"`
	SessionSecret string   `yaml:"session_secret"`
	AdminUser     string   `yaml:"admin_user"`
	AdminPassword string   `yaml:"admin_password"`
}

func Start(ctx *cli.Context) {
	initLog(ctx.Bool(debugLogFlag.Name))
	conf := loadConfig(ctx)

	//init db
	if conf.MongoURI != "" {
		db.MongoURI = conf.MongoURI
	}
	db.Init()
	defer func() {
		db.MgoCli.Disconnect(context.Background())
	}()
	store := db.NewStore()

	//model backends, locally served first
	ollama := model.NewOllamaClient(conf.OllamaURL)
	hosted := model.NewHostedClient(conf.HostedURL, conf.HostedModels)
	resolver := model.NewResolver(ollama, hosted)

	sp, err := speech.NewService(speech.Config{
		ProviderUrl: conf.TTSURL,
		ApiKey:      conf.TTSKey,
		Language:    conf.TTSLanguage,
		Speaker:     conf.TTSSpeaker,
		CacheDir:    conf.TTSCacheDir,
		AudioDir:    conf.AudioDir,
	})
	if err != nil {
		zap.S().Fatalw("init speech service", "err", err)
	}

	orch := chat.NewOrchestrator(store, resolver, sp)

	rpc.InitRpcService(rpc.Config{
		Port:          conf.Port,
		SessionSecret: conf.SessionSecret,
		AdminUser:     conf.AdminUser,
		AdminPassword: conf.AdminPassword,
	}, store, orch, resolver, ollama, sp)

	go func() {
		if err := rpc.RpcServer.Start(context.Background()); err != nil {
			zap.S().Fatalw("rpc server", "err", err)
		}
	}()
	waitToExit()
}

func initLog(debug bool) {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

func loadConfig(ctx *cli.Context) AppConfig {
	conf := AppConfig{
		Port:        "3030",
		OllamaURL:   "http://localhost:11434",
		TTSLanguage: "tw",
		TTSSpeaker:  "twi_speaker_4",
		TTSCacheDir: "./tts_cache",
		AudioDir:    "./audio",
		AdminUser:   "admin",
	}
	configPath := ctx.String(configPathFlag.Name)
	b, err := os.ReadFile(configPath)
	if err != nil {
		zap.S().Fatalw("read config", "path", configPath, "err", err)
	}
	if err = yaml.Unmarshal(b, &conf); err != nil {
		zap.S().Fatalw("parse config", "path", configPath, "err", err)
	}
	return conf
}

func waitToExit() {
	exit := make(chan bool, 0)
	sc := make(chan os.Signal, 1)
	if !signal.Ignored(syscall.SIGHUP) {
		signal.Notify(sc, syscall.SIGHUP)
	}
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sc {
			fmt.Printf("received exit signal:%v", sig.String())
			close(exit)
			break
		}
	}()
	<-exit
}
