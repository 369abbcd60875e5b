package cfg

import (
	"github.com/caarlos0/env/v11"
)

type Config struct {
	// MaxRegions is the region table capacity of a controller built from the
	// environment.
	MaxRegions int `env:"DMA_MAX_REGIONS" envDefault:"16"`
	// MaxSGBatch caps the scatter-gather list the copy helpers build per
	// round. 0 means use the platform IOV_MAX.
	MaxSGBatch int `env:"DMA_MAX_SG_BATCH" envDefault:"0"`
}

func Parse() (Config, error) {
	return env.ParseAs[Config]()
}
