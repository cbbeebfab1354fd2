package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"lawcrawler/internal/crawler"
	"lawcrawler/internal/crawler/strategies"
	"lawcrawler/internal/detect"
	"lawcrawler/internal/identity"
	"lawcrawler/internal/identity/checker"
	"lawcrawler/internal/identity/feed"
	"lawcrawler/internal/identity/storage"
	"lawcrawler/internal/match"
	"lawcrawler/internal/shared/config"
	"lawcrawler/internal/shared/logger"
	"lawcrawler/internal/shared/types"
	"lawcrawler/internal/sink"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	targetsFile := flag.String("targets", "", "Path to a file with one document name per line")
	singleName := flag.String("name", "", "Acquire a single document by name")
	outFile := flag.String("out", "", "Result file path (default: <data_dir>/results.jsonl)")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "lawcrawler.ini")
	identitiesPath := filepath.Join(*configDir, "identities.json")
	knownURLsPath := filepath.Join(*configDir, "known_urls.json")

	// 1. 加载 .ini 行为配置
	cfg := new(types.Config)
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	dataDir := cfg.CommonConf.DataDir
	if dataDir == "" {
		dataDir = "data"
	}

	// 2. 读取目标清单
	targets, err := loadTargets(*singleName, *targetsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load target list")
	}
	if len(targets) == 0 {
		logger.Fatal().Msg("No targets: pass -name or -targets")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. 装配身份池
	pool := buildPool(ctx, cfg, identitiesPath, dataDir)

	// 4. 装配检测器、解析器和策略链
	analyzer := detect.NewAnalyzer(cfg.DetectConf)
	resolver := match.NewResolver(cfg.MatchConf.AcceptThreshold)
	fetcher := crawler.NewFetcher(cfg.CrawlerConf, cfg.PoolConf, pool, analyzer)

	knownURLs, err := config.LoadKnownURLs(knownURLsPath)
	if err != nil {
		logger.Fatal().Err(err).Msgf("Failed to load known URLs file '%s'", knownURLsPath)
	}

	requestTimeout := time.Duration(cfg.CrawlerConf.RequestTimeoutSec) * time.Second
	registered := []crawler.Strategy{
		strategies.NewDirectURL(fetcher, knownURLs),
		strategies.NewStatuteAPI(fetcher, ""),
		strategies.NewWebSearch(fetcher, ""),
		strategies.NewBrowser(analyzer, "", requestTimeout),
	}

	engine, err := crawler.NewEngine(cfg.CrawlerConf, analyzer, resolver, registered)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to assemble strategy chain")
	}

	// 5. 打开结果文件
	resultPath := *outFile
	if resultPath == "" {
		resultPath = filepath.Join(dataDir, "results.jsonl")
	}
	out, err := sink.NewJSONLSink(resultPath)
	if err != nil {
		logger.Fatal().Err(err).Msgf("Failed to open result file '%s'", resultPath)
	}

	// 6. 跑批
	logger.Info().Int("targets", len(targets)).Str("results", resultPath).Msg("Starting acquisition batch...")
	results := engine.AcquireBatch(ctx, targets)

	found := 0
	for _, result := range results {
		if result.Found {
			found++
		}
		if err := out.Write(result); err != nil {
			logger.Error().Err(err).Str("target", result.TargetName).Msg("Failed to write result")
		}
	}
	if err := out.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close result file")
	}

	// 7. 收尾：持久化身份统计，输出检测摘要
	if cfg.PoolConf.StatePersistEnabled {
		if err := pool.Persist(); err != nil {
			logger.Error().Err(err).Msg("Failed to persist identity stats")
		}
	}

	summary := analyzer.Snapshot()
	logger.Info().
		Int("targets", len(results)).
		Int("found", found).
		Int("requests", summary.TotalRequests).
		Float64("success_rate", summary.SuccessRate).
		Float64("block_rate", summary.BlockRate).
		Str("final_level", summary.Level).
		Msg("Batch complete.")

	if found < len(results) {
		os.Exit(2)
	}
}

// buildPool 装配身份池：配置身份、持久化统计、发现源补给和启动前健康检查。
func buildPool(ctx context.Context, cfg *types.Config, identitiesPath, dataDir string) *identity.Pool {
	chk := checker.New("",
		time.Duration(cfg.PoolConf.CheckTimeoutSec)*time.Second,
		cfg.PoolConf.CheckConcurrency)

	var store identity.Storage
	if cfg.PoolConf.StatePersistEnabled {
		store = storage.NewFileStorage(filepath.Join(dataDir, "identities.dat"))
	}

	pool := identity.NewPool(cfg.PoolConf, chk, store)

	if store != nil {
		if err := pool.LoadPersisted(); err != nil {
			logger.Error().Err(err).Msg("Failed to load persisted identity stats, continuing with an empty pool")
		}
	}

	profiles, err := config.LoadIdentities(identitiesPath)
	if err != nil {
		logger.Fatal().Err(err).Msgf("Failed to load identities file '%s'", identitiesPath)
	}
	pool.AddTrusted(identity.FromProfiles(profiles))
	logger.Info().Int("configured", len(profiles)).Msg("Configured identities loaded.")

	if cfg.PoolConf.FeedEnabled {
		sources := []feed.Source{
			feed.NewProxyListDownloadSource(),
			feed.NewKuaidailiSource(),
		}
		for _, source := range sources {
			identities, err := source.Scrape()
			if err != nil {
				logger.Warn().Str("source", source.Name()).Err(err).Msg("Feed scrape failed, skipping source")
				continue
			}
			added := pool.AddUntrusted(identities)
			logger.Info().Str("source", source.Name()).Int("added", added).Msg("Feed identities added, pending health check.")
		}
	}

	// 不可信身份必须先通过健康检查才可被选择
	pool.RefreshIfStale(ctx)
	return pool
}

// loadTargets 从 -name 或目标清单文件读取目标。清单每行一个名称，
// 空行和 # 开头的行被忽略。
func loadTargets(singleName, targetsFile string) ([]string, error) {
	if singleName != "" {
		return []string{singleName}, nil
	}
	if targetsFile == "" {
		return nil, nil
	}

	file, err := os.Open(targetsFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var targets []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	return targets, scanner.Err()
}
