// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"

	"github.com/LeeDigitalWorks/gasmeter/pkg/logger"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/xdg-go/scram"
)

const kafkaSourceName = "kafka"

// KafkaSource reports gas carried by every partition of a Kafka topic.
type KafkaSource struct {
	consumer sarama.Consumer
	cfg      KafkaConfig
	reporter Reporter
	log      zerolog.Logger

	mu         sync.Mutex
	partitions []sarama.PartitionConsumer
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	closed     bool
}

// NewKafkaSource creates a sarama consumer for cfg.Brokers.
func NewKafkaSource(cfg KafkaConfig, r Reporter) (*KafkaSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	consumer, err := sarama.NewConsumer(cfg.Brokers, newSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("kafka consumer creation failed: %w", err)
	}

	return NewKafkaSourceWithConsumer(consumer, cfg, r), nil
}

// NewKafkaSourceWithConsumer wraps an existing consumer. Close closes it.
func NewKafkaSourceWithConsumer(consumer sarama.Consumer, cfg KafkaConfig, r Reporter) *KafkaSource {
	if cfg.InitialOffset == "" {
		cfg.InitialOffset = OffsetNewest
	}
	return &KafkaSource{
		consumer: consumer,
		cfg:      cfg,
		reporter: r,
		log:      logger.Component("source.kafka"),
	}
}

// Name returns the source identifier.
func (s *KafkaSource) Name() string {
	return kafkaSourceName
}

func newSaramaConfig(cfg KafkaConfig) *sarama.Config {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true

	if cfg.ClientID != "" {
		config.ClientID = cfg.ClientID
	}

	switch cfg.InitialOffset {
	case OffsetOldest:
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	if cfg.DialTimeout > 0 {
		config.Net.DialTimeout = cfg.DialTimeout
	}

	if cfg.TLS {
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
	}

	if cfg.SASLEnabled {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = cfg.SASLUsername
		config.Net.SASL.Password = cfg.SASLPassword

		switch cfg.SASLMechanism {
		case "SCRAM-SHA-256":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{mechanism: scram.SHA256}
			}
		case "SCRAM-SHA-512":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{mechanism: scram.SHA512}
			}
		default:
			config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	return config
}

func (s *KafkaSource) initialOffset() int64 {
	if s.cfg.InitialOffset == OffsetOldest {
		return sarama.OffsetOldest
	}
	return sarama.OffsetNewest
}

// Start opens a partition consumer for every partition of the topic and
// consumes them in the background until ctx is done or Close is called.
func (s *KafkaSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.closed {
		return ErrAlreadyStarted
	}

	partitions, err := s.consumer.Partitions(s.cfg.Topic)
	if err != nil {
		return fmt.Errorf("kafka partitions for %q: %w", s.cfg.Topic, err)
	}

	offset := s.initialOffset()
	for _, partition := range partitions {
		pc, err := s.consumer.ConsumePartition(s.cfg.Topic, partition, offset)
		if err != nil {
			for _, opened := range s.partitions {
				opened.AsyncClose()
			}
			s.partitions = nil
			return fmt.Errorf("kafka consume partition %d: %w", partition, err)
		}
		s.partitions = append(s.partitions, pc)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	for i, pc := range s.partitions {
		s.wg.Add(1)
		go s.consume(ctx, partitions[i], pc)
	}

	s.log.Info().
		Strs("brokers", s.cfg.Brokers).
		Str("topic", s.cfg.Topic).
		Int("partitions", len(partitions)).
		Str("initial_offset", s.cfg.InitialOffset).
		Msg("kafka gas source consuming")

	return nil
}

func (s *KafkaSource) consume(ctx context.Context, partition int32, pc sarama.PartitionConsumer) {
	defer s.wg.Done()

	messages := pc.Messages()
	errs := pc.Errors()
	for messages != nil || errs != nil {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			if err := deliver(kafkaSourceName, s.reporter, msg.Value); err != nil {
				s.log.Warn().Err(err).
					Int32("partition", partition).
					Int64("offset", msg.Offset).
					Msg("dropping malformed gas message")
			}
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			ConsumerErrorsTotal.WithLabelValues(kafkaSourceName).Inc()
			s.log.Error().Err(cerr).Int32("partition", partition).Msg("kafka consumer error")
		}
	}
}

// Close stops every partition consumer, waits for the consume goroutines and
// closes the underlying consumer.
func (s *KafkaSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.started {
		s.cancel()
		s.wg.Wait()
		for _, pc := range s.partitions {
			if err := pc.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := s.consumer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
