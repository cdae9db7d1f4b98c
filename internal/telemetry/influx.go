package telemetry

import (
	"context"
	"errors"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxConfig addresses an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

func (c InfluxConfig) Validate() error {
	if c.URL == "" || c.Org == "" || c.Bucket == "" {
		return errors.New("influx: url, org and bucket are required")
	}
	return nil
}

// InfluxSink writes points synchronously through the blocking write API.
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

func (s *InfluxSink) WritePoint(ctx context.Context, p Point) error {
	fields := make(map[string]interface{}, len(p.Fields))
	for k, v := range p.Fields {
		fields[k] = v
	}
	if err := s.write.WritePoint(ctx, influxdb2.NewPoint(p.Name, p.Tags, fields, p.Time)); err != nil {
		return fmt.Errorf("influx: %w", err)
	}
	return nil
}

func (s *InfluxSink) Close() {
	s.client.Close()
}
