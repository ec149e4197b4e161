package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/mmo-atlas/internal/mapsync"
	"github.com/annel0/mmo-atlas/internal/tile"
	"github.com/annel0/mmo-atlas/internal/vec"
)

// printingStore печатает каждый полученный тайл
type printingStore struct {
	*tile.MemoryStore
}

func (p printingStore) PutTile(ctx context.Context, dim string, id tile.ID, chunk vec.Vec2) error {
	fmt.Printf("%s  %-24s (%4d,%4d)  %s\n", time.Now().Format("15:04:05"), dim, chunk.X, chunk.Y, id)
	return p.MemoryStore.PutTile(ctx, dim, id, chunk)
}

func main() {
	var (
		serverAddr = flag.String("server", "localhost:7777", "адрес сервера синхронизации")
		network    = flag.String("net", "tcp", "транспорт: tcp или kcp")
		dim        = flag.String("dim", "minecraft:overworld", "измерение")
		x          = flag.Int("x", 0, "чанк X")
		z          = flag.Int("z", 0, "чанк Z")
		radius     = flag.Int("radius", 4, "радиус запроса в чанках")
		follow     = flag.Bool("follow", false, "после загрузки области ждать изменений")
	)
	flag.Parse()

	conn, err := mapsync.Dial(*network, *serverAddr)
	if err != nil {
		log.Fatalf("❌ Failed to connect to server: %v", err)
	}

	store := printingStore{tile.NewMemoryStore()}
	client := mapsync.NewClient(conn, store)
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if !*follow {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
	}

	if err := client.Request(*dim, vec.Vec2{X: *x, Y: *z}, *radius); err != nil {
		log.Fatalf("❌ Request failed: %v", err)
	}
	fmt.Printf("🗺️ %s вокруг (%d,%d), радиус %d\n", *dim, *x, *z, *radius)

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("❌ Connection failed: %v", err)
	}

	fmt.Printf("📦 Получено тайлов: %d\n", store.Len(*dim))
	for _, mk := range client.Markers(*dim) {
		fmt.Printf("📍 %s %q (%d,%d)\n", mk.Type, mk.Label, mk.X, mk.Z)
	}
}
