package overpass

import "github.com/xtymac/eventflow-sub004/internal/roadsync/source"

func init() {
	source.Register(sourceName, func(cfg source.Config) (source.WaySource, error) {
		return NewClient(cfg.BaseURL, cfg.UserAgent, cfg.Timeout), nil
	})
}
