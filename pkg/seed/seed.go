// Package seed loads organizations, their governance entities and tracked voters from YAML.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/ingest"
	"github.com/chainsafe/senate-indexer/pkg/store"
)

// orgNamespace derives stable organization ids from organization names.
var orgNamespace = uuid.MustParse("5b0c1d6e-3f4a-4b8e-9c2d-7a1e0f9b8c3d")

// File is the seed document.
type File struct {
	Organizations []Organization `yaml:"organizations" validate:"required,min=1,dive"`
}

// Organization groups the entities and voters of one DAO.
type Organization struct {
	Name     string   `yaml:"name" validate:"required"`
	Entities []Entity `yaml:"entities" validate:"required,min=1,dive"`
	Voters   []string `yaml:"voters" validate:"dive,eth_addr"`
}

// Entity describes one governance source of an organization.
type Entity struct {
	Type       string  `yaml:"type" validate:"required"`
	ChainIndex int64   `yaml:"chain_index" validate:"gte=0"`
	Active     *bool   `yaml:"active"`
	Decoder    Decoder `yaml:"decoder"`
}

// Decoder carries the union of decoder fields; which ones are required depends on the type.
type Decoder struct {
	Address       string `yaml:"address" validate:"omitempty,eth_addr"`
	CreateAddress string `yaml:"create_address" validate:"omitempty,eth_addr"`
	VoteAddress   string `yaml:"vote_address" validate:"omitempty,eth_addr"`
	ProposalURL   string `yaml:"proposal_url" validate:"omitempty,url"`
	Space         string `yaml:"space"`
}

// Result counts what a seed run wrote.
type Result struct {
	Entities int
	Voters   int
}

// OrgID returns the organization id derived from its name.
func OrgID(name string) uuid.UUID {
	return uuid.NewSHA1(orgNamespace, []byte(strings.ToLower(strings.TrimSpace(name))))
}

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a seed document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode seed file: %w", err)
	}
	if err := validator.New().Struct(&f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%s is invalid (%s)", verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, err
	}
	for _, org := range f.Organizations {
		for _, e := range org.Entities {
			if _, err := e.decoder(); err != nil {
				return nil, fmt.Errorf("organization %s: %w", org.Name, err)
			}
		}
	}
	return &f, nil
}

func (e Entity) decoder() (governance.Decoder, error) {
	t, err := governance.ParseSourceType(e.Type)
	if err != nil {
		return nil, err
	}

	var dec governance.Decoder
	switch t {
	case governance.SourceSnapshot:
		dec = governance.SnapshotDecoder{Space: e.Decoder.Space}
	case governance.SourceMakerExecutive:
		dec = governance.MakerExecutiveDecoder{
			Address:     common.HexToAddress(e.Decoder.Address),
			ProposalURL: e.Decoder.ProposalURL,
		}
	case governance.SourceMakerPoll:
		dec = governance.MakerPollDecoder{
			CreateAddress: common.HexToAddress(e.Decoder.CreateAddress),
			VoteAddress:   common.HexToAddress(e.Decoder.VoteAddress),
			ProposalURL:   e.Decoder.ProposalURL,
		}
	default:
		dec = governance.GovernorDecoder{
			Source:      t,
			Address:     common.HexToAddress(e.Decoder.Address),
			ProposalURL: e.Decoder.ProposalURL,
		}
	}
	if err := dec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s decoder: %w", t, err)
	}
	return dec, nil
}

// Seeder writes seed documents to the store.
type Seeder struct {
	store  store.Store
	logger *zap.Logger
}

// NewSeeder creates a seeder.
func NewSeeder(st store.Store, logger *zap.Logger) *Seeder {
	return &Seeder{store: st, logger: logger}
}

// Apply upserts every entity and tracked voter of f in one transaction. Existing entities keep
// their cursors; only the decoder, name and active flag are refreshed.
func (s *Seeder) Apply(ctx context.Context, f *File) (Result, error) {
	var res Result
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		res = Result{}
		for _, org := range f.Organizations {
			orgID := OrgID(org.Name)
			for _, spec := range org.Entities {
				dec, err := spec.decoder()
				if err != nil {
					return fmt.Errorf("organization %s: %w", org.Name, err)
				}
				entity := governance.NewEntity(orgID, org.Name, dec, ingest.DefaultSpeed(dec.SourceType()))
				entity.ChainIndex = spec.ChainIndex
				if spec.Active != nil {
					entity.Active = *spec.Active
				}
				saved, err := tx.SaveEntity(ctx, entity)
				if err != nil {
					return fmt.Errorf("failed to save %s entity of %s: %w", entity.Type, org.Name, err)
				}
				s.logger.Debug("Seeded entity",
					zap.String("org", org.Name),
					zap.String("entity", saved.ID.String()),
					zap.String("source", string(saved.Type)))
				res.Entities++
			}
			if len(org.Voters) > 0 {
				if err := tx.TrackVoters(ctx, orgID, org.Voters); err != nil {
					return fmt.Errorf("failed to track voters of %s: %w", org.Name, err)
				}
				res.Voters += len(org.Voters)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("Seed applied",
		zap.Int("organizations", len(f.Organizations)),
		zap.Int("entities", res.Entities),
		zap.Int("voters", res.Voters))
	return res, nil
}
