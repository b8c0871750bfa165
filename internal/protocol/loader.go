package protocol

import (
	"bytes"
	"context"

	"github.com/roach88/casecore/internal/contract"
	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/store"
	"github.com/roach88/casecore/internal/wire"
)

// ContractLoader resolves the contracts a configuration names.
type ContractLoader func(ctx context.Context, cfg wire.Config) ([]*contract.Contract, error)

// LoadContracts is the default loader. It reads, in order of precedence,
// the inline contract, the contract file, or every contract in the
// contract directory.
func LoadContracts(ctx context.Context, cfg wire.Config) ([]*contract.Contract, error) {
	return SourceLoader(nil)(ctx, cfg)
}

// SourceLoader is LoadContracts with directory reads served by src, such
// as a cached store. A nil src reads the configured directory directly.
func SourceLoader(src store.Source) ContractLoader {
	return func(ctx context.Context, cfg wire.Config) ([]*contract.Contract, error) {
		switch {
		case len(cfg.Contract) > 0:
			c, err := contract.Decode(bytes.NewReader(cfg.Contract))
			if err != nil {
				return nil, err
			}
			return []*contract.Contract{c}, nil
		case cfg.ContractFile != "":
			c, err := store.ReadFile(cfg.ContractFile)
			if err != nil {
				return nil, err
			}
			return []*contract.Contract{c}, nil
		case cfg.ContractDir != "" || src != nil:
			s := src
			if cfg.ContractDir != "" && (s == nil || !sameDir(s, cfg.ContractDir)) {
				s = store.NewFiles(cfg.ContractDir)
			}
			cs, err := store.LoadAll(ctx, s)
			if err != nil {
				return nil, err
			}
			if len(cs) == 0 {
				dir := cfg.ContractDir
				if d, ok := s.(interface{ Dir() string }); ok {
					dir = d.Dir()
				}
				return nil, failure.Configuration(nil, "no contracts found in %s", dir)
			}
			return cs, nil
		}
		return nil, failure.Configuration(nil, "no contract configured: set contract, contractFile or contractDir")
	}
}

// sameDir reports whether src serves dir, so a cached source is only used
// for the directory it caches.
func sameDir(src store.Source, dir string) bool {
	d, ok := src.(interface{ Dir() string })
	return ok && d.Dir() == dir
}
