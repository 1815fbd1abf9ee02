package config

import (
	"fmt"
	"os"
	"path/filepath"

	"credit-ledger-go/internal/models"

	"gopkg.in/yaml.v2"
)

type RefreshPolicyFile struct {
	Refresh models.RefreshConfig `yaml:"refresh"`
}

// LoadRefreshPolicy reads a YAML policy file and overrides the fields it sets in cfg.
//
//	refresh:
//	  pro_amount: 100
//	  free_amount: 6
//	  schedule: "0 0 1 * *"
func LoadRefreshPolicy(policyFile string, cfg *models.RefreshConfig) error {
	var policyPath string
	if filepath.IsAbs(policyFile) {
		policyPath = policyFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		policyPath = filepath.Join(wd, policyFile)
	}

	data, err := os.ReadFile(policyPath)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", policyFile, err)
	}

	var file RefreshPolicyFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return fmt.Errorf("unable to parse %s: %w", policyFile, err)
	}

	p := file.Refresh
	if p.ProAmount < 0 || p.FreeAmount < 0 {
		return fmt.Errorf("%s: refresh amounts cannot be negative", policyFile)
	}

	if p.ProAmount > 0 {
		cfg.ProAmount = p.ProAmount
	}
	if p.FreeAmount > 0 {
		cfg.FreeAmount = p.FreeAmount
	}
	if p.Schedule != "" {
		cfg.Schedule = p.Schedule
	}
	if p.Workers > 0 {
		cfg.Workers = p.Workers
	}
	if p.RecentTransactionsLimit > 0 {
		cfg.RecentTransactionsLimit = p.RecentTransactionsLimit
	}
	return nil
}
