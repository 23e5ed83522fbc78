package flowtable

import (
	"DeepTrace/internal/model"
	"fmt"
	"math/rand"
	"testing"
)

var benchEvents []*model.PacketEvent

func init() {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 4096; i++ {
		ft := model.FiveTuple{
			SrcIP:    fmt.Sprintf("10.0.%d.%d", rng.Intn(16), rng.Intn(256)),
			DstIP:    "192.168.0.1",
			SrcPort:  uint16(rng.Intn(64511) + 1024),
			DstPort:  443,
			Protocol: model.ProtocolTCP,
		}
		benchEvents = append(benchEvents, &model.PacketEvent{
			FiveTuple:    ft,
			TimestampUS:  int64(i + 1),
			PacketLength: uint32(rng.Intn(1400) + 60),
			TCPFlags:     model.FlagACK,
			IsForward:    i%3 != 0,
		})
	}
}

func BenchmarkIngest_Parallel(b *testing.B) {
	for _, shards := range []uint32{1, 16, 256} {
		table, err := New(Options{NumShards: shards})
		if err != nil {
			b.Fatal(err)
		}
		b.Run(fmt.Sprintf("shards=%d", shards), func(b *testing.B) {
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					table.Ingest(benchEvents[i%len(benchEvents)])
					i++
				}
			})
		})
	}
}

func BenchmarkSweep(b *testing.B) {
	table, err := New(Options{})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for _, ev := range benchEvents {
			table.Ingest(ev)
		}
		b.StartTimer()
		table.Sweep(int64(len(benchEvents))+10, 0)
	}
}
