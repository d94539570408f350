package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	// MaxWait bounds the wait for every partition to get a leader.
	MaxWait time.Duration
}

// EnsureTopic creates the topic through the controller when missing and waits
// until every partition has a leader.
func EnsureTopic(ctx context.Context, brokers []string, spec TopicSpec, log *zap.Logger) error {
	if spec.NumPartitions <= 0 {
		spec.NumPartitions = 1
	}
	if spec.ReplicationFactor <= 0 {
		spec.ReplicationFactor = 1
	}
	if spec.MaxWait <= 0 {
		spec.MaxWait = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("topic", spec.Name))

	conn, err := dialAny(ctx, brokers)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctrl, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller: %w", err)
	}
	cc, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	if err != nil {
		return fmt.Errorf("kafka dial controller: %w", err)
	}
	defer cc.Close()

	err = cc.CreateTopics(kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     spec.NumPartitions,
		ReplicationFactor: spec.ReplicationFactor,
	})
	switch {
	case errors.Is(err, kafka.TopicAlreadyExists):
		log.Debug("topic exists")
	case err != nil:
		return fmt.Errorf("create topic %s: %w", spec.Name, err)
	default:
		log.Info("topic created", zap.Int("partitions", spec.NumPartitions))
	}

	wctx, cancel := context.WithTimeout(ctx, spec.MaxWait)
	defer cancel()
	for {
		if err = topicReady(conn, spec.Name); err == nil {
			log.Info("topic ready")
			return nil
		}
		select {
		case <-wctx.Done():
			return fmt.Errorf("topic %s not ready: %w", spec.Name, err)
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func dialAny(ctx context.Context, brokers []string) (*kafka.Conn, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	var errs []error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", b, err))
	}
	return nil, fmt.Errorf("kafka dial: %w", errors.Join(errs...))
}

func topicReady(conn *kafka.Conn, topic string) error {
	parts, err := conn.ReadPartitions(topic)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return errors.New("no partitions")
	}
	for _, p := range parts {
		if p.Leader.ID == -1 {
			return fmt.Errorf("partition %d has no leader", p.ID)
		}
	}
	return nil
}
