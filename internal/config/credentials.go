package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/banshee-data/waterlevel/internal/camera"
	"github.com/banshee-data/waterlevel/internal/telemetry"
)

// Credentials holds the secrets read from the environment.
type Credentials struct {
	CameraUser     string
	CameraPassword string
	CameraHost     string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

// LoadCredentials reads credentials from the environment. When envFile is
// non-empty it is loaded first; variables already set in the environment
// win over the file. A missing envFile is not an error.
func LoadCredentials(envFile string) (Credentials, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Credentials{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return Credentials{
		CameraUser:     os.Getenv("CAMERA_USERNAME"),
		CameraPassword: os.Getenv("CAMERA_PWD"),
		CameraHost:     os.Getenv("CAMERA_IP"),
		InfluxURL:      os.Getenv("INFLUXDB_URL"),
		InfluxToken:    os.Getenv("INFLUXDB_TOKEN"),
		InfluxOrg:      os.Getenv("INFLUXDB_ORG"),
		InfluxBucket:   os.Getenv("INFLUXDB_BUCKET"),
	}, nil
}

// VideoURL returns the camera's RTSP address, or "" when no host is set.
func (c Credentials) VideoURL() string {
	if c.CameraHost == "" {
		return ""
	}
	return camera.RTSPURL(c.CameraUser, c.CameraPassword, c.CameraHost)
}

// Influx returns the InfluxDB settings and whether any of them are set.
func (c Credentials) Influx() (telemetry.InfluxConfig, bool) {
	cfg := telemetry.InfluxConfig{
		URL:    c.InfluxURL,
		Token:  c.InfluxToken,
		Org:    c.InfluxOrg,
		Bucket: c.InfluxBucket,
	}
	return cfg, cfg != telemetry.InfluxConfig{}
}
