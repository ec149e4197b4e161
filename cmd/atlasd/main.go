package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/mmo-atlas/internal/app"
	"github.com/annel0/mmo-atlas/internal/config"
	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/annel0/mmo-atlas/internal/observability"
	"github.com/annel0/mmo-atlas/internal/worldgen"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $ATLAS_CONFIG)")
	demo := flag.Bool("demo", false, "сгенерировать демонстрационный мир встроенным генератором")
	flag.Parse()

	if err := logging.InitDefaultLogger("atlasd"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	level, err := logging.GetLoggerManager().Configure(cfg.LogLevel)
	if err != nil {
		log.Fatalf("❌ Ошибка log_level: %v", err)
	}
	logging.SetDefaultLevel(level)
	defer logging.GetLoggerManager().CloseAll()

	logging.Info("🗺️ Запуск atlasd...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTelemetry(ctx, "atlasd", cfg.Telemetry)
	if err != nil {
		logging.Error("❌ Ошибка инициализации OpenTelemetry: %v", err)
		log.Fatalf("❌ Ошибка инициализации OpenTelemetry: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logging.Warn("Ошибка остановки OpenTelemetry: %v", err)
		}
	}()

	// nil - глобальный регистр Prometheus (его же отдаёт отдельный metrics порт)
	a, err := app.Build(ctx, cfg, nil, nil)
	if err != nil {
		logging.Error("❌ Ошибка сборки сервиса: %v", err)
		log.Fatalf("❌ Ошибка сборки сервиса: %v", err)
	}

	if err := a.Start(); err != nil {
		logging.Error("❌ Ошибка запуска: %v", err)
		log.Fatalf("❌ Ошибка запуска: %v", err)
	}

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🧭 Синхронизация карты: TCP :%d, KCP :%d", cfg.Server.GetSyncTCPPort(), cfg.Server.GetSyncKCPPort())
	logging.Info("   🌐 HTTP API: http://localhost:%d", cfg.Server.GetHTTPPort())
	logging.Info("   ❤️  Health check: http://localhost:%d/health", cfg.Server.GetHTTPPort())

	if *demo || cfg.Demo.Enabled {
		gen := worldgen.New(cfg.Demo.Seed)
		go func() {
			if _, err := a.RunDemo(ctx, gen, cfg.Demo.Dimension, cfg.Demo.Radius); err != nil && ctx.Err() == nil {
				logging.Error("❌ Демо-генерация: %v", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал завершения, останавливаемся...")
	case err := <-a.Err():
		logging.Error("❌ Фатальная ошибка сервера: %v", err)
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки: %v", err)
	}

	logging.Info("👋 atlasd остановлен")
}
