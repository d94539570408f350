package main

import (
	"context"
	"flag"
	"log"
	"time"

	config "github.com/NordCoder/Sentinel/internal/config/sentinel"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/NordCoder/Sentinel/internal/obs/retry"
	kafkax "github.com/NordCoder/Sentinel/internal/repository/kafka"
	"go.uber.org/zap"
)

// kafka-init creates the CheckDue topic and waits until every partition has a leader.
func main() {
	cfgPath := flag.String("config", "config/sentinel.yaml", "path to the YAML config")
	rf := flag.Int("rf", 1, "replication factor")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	l, err := obs.NewLogger(cfg.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()
	l = obs.Component(l, "kafka-init")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	spec := kafkax.TopicSpec{
		Name:              cfg.Kafka.Topic,
		NumPartitions:     cfg.Kafka.Partitions,
		ReplicationFactor: *rf,
		MaxWait:           10 * time.Second,
	}
	pol := retry.LoggedPolicy("kafka_init", retry.PolicyConfig{
		Attempts: 10, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second, Jitter: 0.2,
	}, l)

	err = retry.Do(ctx, func(int) error {
		return kafkax.EnsureTopic(ctx, cfg.Kafka.Brokers, spec, l)
	}, pol)
	if err != nil {
		l.Fatal("topic not ready", zap.String("topic", spec.Name), zap.Error(err))
	}
	l.Info("kafka-init ok", zap.String("topic", spec.Name), zap.Int("partitions", spec.NumPartitions))
}
