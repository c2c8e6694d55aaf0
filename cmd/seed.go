package cmd

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"

	"github.com/minecraft-gilde/importer/internal/model"
	"github.com/minecraft-gilde/importer/internal/storage"
)

var seedCmd = &cobra.Command{
	Use:   "seed <metrics.yaml>",
	Short: "Load metric definitions and sources from a YAML file",
	Long: `Upserts metric definitions and their weighted sources.

File format:
  metrics:
    - id: blocks_mined
      label: Blöcke abgebaut
      category: Abbau
      unit: Blöcke
      sort_order: 10
      enabled: true
      sources:
        - section: "minecraft:mined"
          key: "minecraft:stone"
          weight: 1`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

// seedFile mirrors the YAML layout.
type seedFile struct {
	Metrics []struct {
		ID        string `koanf:"id"`
		Label     string `koanf:"label"`
		Category  string `koanf:"category"`
		Unit      string `koanf:"unit"`
		Divisor   int    `koanf:"divisor"`
		Decimals  int    `koanf:"decimals"`
		SortOrder int    `koanf:"sort_order"`
		Enabled   *bool  `koanf:"enabled"`
		Sources   []struct {
			Section string `koanf:"section"`
			Key     string `koanf:"key"`
			Weight  int    `koanf:"weight"`
		} `koanf:"sources"`
	} `koanf:"metrics"`
}

func runSeed(cmd *cobra.Command, args []string) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(args[0]), yaml.Parser()); err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	var sf seedFile
	if err := k.UnmarshalWithConf("", &sf, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}
	if len(sf.Metrics) == 0 {
		return fmt.Errorf("%s defines no metrics", args[0])
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	for _, m := range sf.Metrics {
		if m.ID == "" {
			return fmt.Errorf("metric without id in %s", args[0])
		}
		def := model.MetricDef{
			ID:        m.ID,
			Label:     m.Label,
			Category:  m.Category,
			Unit:      m.Unit,
			Divisor:   max(m.Divisor, 1),
			Decimals:  m.Decimals,
			SortOrder: m.SortOrder,
			Enabled:   m.Enabled == nil || *m.Enabled,
		}
		sources := make([]model.MetricSource, 0, len(m.Sources))
		for _, s := range m.Sources {
			weight := s.Weight
			if weight == 0 {
				weight = 1
			}
			sources = append(sources, model.MetricSource{
				MetricID: m.ID,
				Section:  s.Section,
				StatKey:  s.Key,
				Weight:   weight,
			})
		}
		if err := db.UpsertMetricDef(def, sources); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stdout, "Seeded %d metrics from %s\n", len(sf.Metrics), args[0])
	return nil
}
