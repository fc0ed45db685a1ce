// pose-tail connects to a fieldpose estimate stream and prints each estimate.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/fieldpose/internal/posestream"
)

func main() {
	var addr, strategy string
	var count int

	flag.StringVar(&addr, "addr", "localhost:50051", "estimate stream address")
	flag.StringVar(&strategy, "strategy", "", "only show estimates from this strategy")
	flag.IntVar(&count, "n", 0, "exit after n estimates (0 for no limit)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial %s: %v", addr, err)
	}
	defer conn.Close()

	stream, err := posestream.NewClient(conn).StreamEstimates(ctx, strategy)
	if err != nil {
		log.Fatalf("open stream: %v", err)
	}

	for n := 0; count == 0 || n < count; n++ {
		u, err := stream.Recv()
		if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
			return
		}
		if err != nil {
			log.Fatalf("stream: %v", err)
		}
		p := u.Estimate.Pose
		_, _, yaw := p.Rotation.RPY()
		fmt.Printf("#%-6d %-26s t=%d  x=%7.3f y=%7.3f z=%6.3f yaw=%7.2f°  at %s\n",
			u.Sequence, u.Strategy, u.Estimate.TimestampNanos,
			p.Translation.X, p.Translation.Y, p.Translation.Z, yaw*180/math.Pi,
			u.Published.Format("15:04:05.000"))
	}
}
