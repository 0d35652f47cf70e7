package common

import (
	"fmt"
	"os"
	"path/filepath"

	"escrow-engine-go/internal/models"

	"gopkg.in/yaml.v2"
)

type walletCatalog struct {
	Wallets []models.ReceivingWallet `yaml:"wallets"`
}

// LoadWalletCatalog reads the platform receiving wallets, one per network.
func LoadWalletCatalog(walletsFile string) ([]models.ReceivingWallet, error) {
	var walletsPath string
	if filepath.IsAbs(walletsFile) {
		walletsPath = walletsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		walletsPath = filepath.Join(wd, walletsFile)
	}

	data, err := os.ReadFile(walletsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", walletsFile, err)
	}

	var catalog walletCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", walletsFile, err)
	}

	seen := make(map[string]bool, len(catalog.Wallets))
	for i, wallet := range catalog.Wallets {
		if wallet.Network == "" {
			return nil, fmt.Errorf("wallet at index %d missing network", i)
		}
		if wallet.Address == "" {
			return nil, fmt.Errorf("wallet at index %d missing address", i)
		}
		if wallet.WalletId == "" {
			return nil, fmt.Errorf("wallet at index %d missing wallet_id", i)
		}
		if seen[wallet.Network] {
			return nil, fmt.Errorf("duplicate wallet for network %s", wallet.Network)
		}
		seen[wallet.Network] = true
	}

	return catalog.Wallets, nil
}
