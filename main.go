package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packsmith/packsmith/internal/buildfs"
	"github.com/packsmith/packsmith/internal/cache"
	"github.com/packsmith/packsmith/internal/config"
	"github.com/packsmith/packsmith/internal/logging"
	"github.com/packsmith/packsmith/internal/manifest"
	"github.com/packsmith/packsmith/internal/pipeline"
	"github.com/packsmith/packsmith/internal/server"
	"github.com/packsmith/packsmith/internal/stages"
	"github.com/packsmith/packsmith/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath   string
	checkOnly    bool
	showVersion  bool
	serve        bool
	listOnly     bool
	pipelineName string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["root_dir"] = cfg.Global.RootDir
		fields["dest_dir"] = cfg.Global.DestDir
		fields["cache_dir"] = cfg.Global.CacheDir
		fields["link_mode"] = cfg.Global.LinkMode
		fields["mirrors"] = len(cfg.Global.Mirrors)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序为“配置 → 下载客户端 → 内容缓存 → 流水线注册表”，
	// 所有阶段共享同一个缓存实例，保证相同摘要只下载一次。
	store, err := cache.NewContentCache(cfg.Global.CacheDir,
		cache.NewHTTPFetcher(server.NewDownloadClient(cfg.Global), "packsmith/"+version.Version),
		cache.Options{
			MaxRetries:     cfg.Global.MaxRetries,
			InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
			Mirrors:        cfg.Global.Mirrors,
			Logger:         logger,
		})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	if opts.serve {
		if err := startHTTPServer(cfg, store, logger); err != nil {
			fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
			return 1
		}
		return 0
	}

	registry := pipeline.NewRegistry()
	err = stages.Register(registry, stages.Deps{
		Config:    cfg.Global,
		Logger:    logger,
		Cache:     store,
		Publisher: buildfs.NewPublisher(buildfs.LinkMode(cfg.Global.LinkMode)),
		Resolver:  manifest.NewResolver(manifest.DefaultDependencyHash),
	})
	if err != nil {
		fmt.Fprintf(stdErr, "注册流水线失败: %v\n", err)
		return 1
	}

	if opts.listOnly {
		printPipelines(registry)
		return 0
	}

	return runPipeline(cfg, registry, opts, logger)
}

func runPipeline(cfg *config.Config, registry *pipeline.Registry, opts cliOptions, logger *logrus.Logger) int {
	p, ok := registry.Resolve(opts.pipelineName)
	if !ok {
		fmt.Fprintf(stdErr, "未知流水线 %q，可选: %s\n", opts.pipelineName, strings.Join(registry.Names(), ", "))
		return 2
	}

	bc, err := stages.NewBuildContext(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "准备构建失败: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout := cfg.Global.PipelineTimeout.DurationValue(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fields := logging.BaseFields("build", opts.configPath)
	fields["pipeline"] = p.Name
	fields["run_id"] = bc.RunID
	fields["version"] = bc.Version
	fields["packsmith"] = version.Full()
	logger.WithFields(fields).Info("构建开始")

	started := time.Now()
	out, err := p.Run(ctx, bc)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("构建失败")
		fmt.Fprintf(stdErr, "构建失败: %v\n", err)
		return 1
	}

	fields["published"] = len(out.Published)
	logger.WithFields(fields).Info("构建完成")
	return 0
}

func printPipelines(registry *pipeline.Registry) {
	for _, p := range registry.List() {
		fmt.Fprintf(stdOut, "%s: %s\n", p.Name, strings.Join(p.StageNames(), " -> "))
	}
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("packsmith", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		serve      bool
		listOnly   bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./packsmith.toml，可被 PACKSMITH_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&serve, "serve", false, "以只读镜像方式对外提供本地缓存")
	fs.BoolVar(&listOnly, "list", false, "列出可用流水线及其阶段")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if fs.NArg() > 1 {
		return cliOptions{}, fmt.Errorf("解析参数失败: 只能指定一个流水线，得到 %v", fs.Args())
	}

	path := os.Getenv("PACKSMITH_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = config.DefaultPath
	}

	name := stages.PipelineBuild
	if fs.NArg() == 1 {
		name = fs.Arg(0)
	}

	return cliOptions{
		configPath:   path,
		checkOnly:    checkOnly,
		showVersion:  showVer,
		serve:        serve,
		listOnly:     listOnly,
		pipelineName: name,
	}, nil
}

func startHTTPServer(cfg *config.Config, store cache.Store, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Store:      store,
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action":    "listen",
		"port":      port,
		"cache_dir": cfg.Global.CacheDir,
	}).Info("镜像服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
