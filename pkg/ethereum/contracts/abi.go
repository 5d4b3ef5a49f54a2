// Package contracts holds the ABI fragments of the governance contracts read by the adapters.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const proposalCreatedGovernorJSON = `{"anonymous":false,"type":"event","name":"ProposalCreated","inputs":[
 {"indexed":false,"name":"id","type":"uint256"},
 {"indexed":false,"name":"proposer","type":"address"},
 {"indexed":false,"name":"targets","type":"address[]"},
 {"indexed":false,"name":"values","type":"uint256[]"},
 {"indexed":false,"name":"signatures","type":"string[]"},
 {"indexed":false,"name":"calldatas","type":"bytes[]"},
 {"indexed":false,"name":"startBlock","type":"uint256"},
 {"indexed":false,"name":"endBlock","type":"uint256"},
 {"indexed":false,"name":"description","type":"string"}]}`

const stateJSON = `{"type":"function","name":"state","stateMutability":"view",
 "inputs":[{"name":"proposalId","type":"uint256"}],
 "outputs":[{"name":"","type":"uint8"}]}`

// GovernorBravoABI covers Compound and Uniswap style governors.
const GovernorBravoABI = `[` + proposalCreatedGovernorJSON + `,
{"anonymous":false,"type":"event","name":"VoteCast","inputs":[
 {"indexed":true,"name":"voter","type":"address"},
 {"indexed":false,"name":"proposalId","type":"uint256"},
 {"indexed":false,"name":"support","type":"uint8"},
 {"indexed":false,"name":"votes","type":"uint256"},
 {"indexed":false,"name":"reason","type":"string"}]},
{"type":"function","name":"proposals","stateMutability":"view",
 "inputs":[{"name":"","type":"uint256"}],
 "outputs":[
  {"name":"id","type":"uint256"},
  {"name":"proposer","type":"address"},
  {"name":"eta","type":"uint256"},
  {"name":"startBlock","type":"uint256"},
  {"name":"endBlock","type":"uint256"},
  {"name":"forVotes","type":"uint256"},
  {"name":"againstVotes","type":"uint256"},
  {"name":"abstainVotes","type":"uint256"},
  {"name":"canceled","type":"bool"},
  {"name":"executed","type":"bool"}]},
{"type":"function","name":"quorumVotes","stateMutability":"view","inputs":[],
 "outputs":[{"name":"","type":"uint256"}]},
` + stateJSON + `]`

// GovernorAlphaABI covers Gitcoin style governors without abstain votes.
const GovernorAlphaABI = `[` + proposalCreatedGovernorJSON + `,
{"anonymous":false,"type":"event","name":"VoteCast","inputs":[
 {"indexed":false,"name":"voter","type":"address"},
 {"indexed":false,"name":"proposalId","type":"uint256"},
 {"indexed":false,"name":"support","type":"bool"},
 {"indexed":false,"name":"votes","type":"uint256"}]},
{"type":"function","name":"proposals","stateMutability":"view",
 "inputs":[{"name":"","type":"uint256"}],
 "outputs":[
  {"name":"id","type":"uint256"},
  {"name":"proposer","type":"address"},
  {"name":"eta","type":"uint256"},
  {"name":"startBlock","type":"uint256"},
  {"name":"endBlock","type":"uint256"},
  {"name":"forVotes","type":"uint256"},
  {"name":"againstVotes","type":"uint256"},
  {"name":"canceled","type":"bool"},
  {"name":"executed","type":"bool"}]},
{"type":"function","name":"quorumVotes","stateMutability":"view","inputs":[],
 "outputs":[{"name":"","type":"uint256"}]},
` + stateJSON + `]`

// GovernorOZABI covers OpenZeppelin Governor based contracts (ENS, Hop).
const GovernorOZABI = `[` + proposalCreatedGovernorJSON + `,
{"anonymous":false,"type":"event","name":"VoteCast","inputs":[
 {"indexed":true,"name":"voter","type":"address"},
 {"indexed":false,"name":"proposalId","type":"uint256"},
 {"indexed":false,"name":"support","type":"uint8"},
 {"indexed":false,"name":"weight","type":"uint256"},
 {"indexed":false,"name":"reason","type":"string"}]},
{"type":"function","name":"proposalVotes","stateMutability":"view",
 "inputs":[{"name":"proposalId","type":"uint256"}],
 "outputs":[
  {"name":"againstVotes","type":"uint256"},
  {"name":"forVotes","type":"uint256"},
  {"name":"abstainVotes","type":"uint256"}]},
{"type":"function","name":"quorum","stateMutability":"view",
 "inputs":[{"name":"blockNumber","type":"uint256"}],
 "outputs":[{"name":"","type":"uint256"}]},
` + stateJSON + `]`

// AaveGovernanceV2ABI covers Aave governance v2 and its dYdX fork.
const AaveGovernanceV2ABI = `[
{"anonymous":false,"type":"event","name":"ProposalCreated","inputs":[
 {"indexed":false,"name":"id","type":"uint256"},
 {"indexed":true,"name":"creator","type":"address"},
 {"indexed":true,"name":"executor","type":"address"},
 {"indexed":false,"name":"targets","type":"address[]"},
 {"indexed":false,"name":"values","type":"uint256[]"},
 {"indexed":false,"name":"signatures","type":"string[]"},
 {"indexed":false,"name":"calldatas","type":"bytes[]"},
 {"indexed":false,"name":"withDelegatecalls","type":"bool[]"},
 {"indexed":false,"name":"startBlock","type":"uint256"},
 {"indexed":false,"name":"endBlock","type":"uint256"},
 {"indexed":false,"name":"strategy","type":"address"},
 {"indexed":false,"name":"ipfsHash","type":"bytes32"}]},
{"anonymous":false,"type":"event","name":"VoteEmitted","inputs":[
 {"indexed":false,"name":"id","type":"uint256"},
 {"indexed":true,"name":"voter","type":"address"},
 {"indexed":false,"name":"support","type":"bool"},
 {"indexed":false,"name":"votingPower","type":"uint256"}]},
{"type":"function","name":"getProposalById","stateMutability":"view",
 "inputs":[{"name":"proposalId","type":"uint256"}],
 "outputs":[{"name":"","type":"tuple","components":[
  {"name":"id","type":"uint256"},
  {"name":"creator","type":"address"},
  {"name":"executor","type":"address"},
  {"name":"targets","type":"address[]"},
  {"name":"values","type":"uint256[]"},
  {"name":"signatures","type":"string[]"},
  {"name":"calldatas","type":"bytes[]"},
  {"name":"withDelegatecalls","type":"bool[]"},
  {"name":"startBlock","type":"uint256"},
  {"name":"endBlock","type":"uint256"},
  {"name":"executionTime","type":"uint256"},
  {"name":"forVotes","type":"uint256"},
  {"name":"againstVotes","type":"uint256"},
  {"name":"executed","type":"bool"},
  {"name":"canceled","type":"bool"},
  {"name":"strategy","type":"address"},
  {"name":"ipfsHash","type":"bytes32"}]}]},
{"type":"function","name":"getProposalState","stateMutability":"view",
 "inputs":[{"name":"proposalId","type":"uint256"}],
 "outputs":[{"name":"","type":"uint8"}]}]`

// AaveExecutorABI exposes the quorum parameters of a proposal executor.
const AaveExecutorABI = `[
{"type":"function","name":"MINIMUM_QUORUM","stateMutability":"view","inputs":[],
 "outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"ONE_HUNDRED_WITH_PRECISION","stateMutability":"view","inputs":[],
 "outputs":[{"name":"","type":"uint256"}]}]`

// AaveStrategyABI exposes the total voting supply of a governance strategy.
const AaveStrategyABI = `[
{"type":"function","name":"getTotalVotingSupplyAt","stateMutability":"view",
 "inputs":[{"name":"blockNumber","type":"uint256"}],
 "outputs":[{"name":"","type":"uint256"}]}]`

// DSChiefABI covers the Maker executive voting contract.
const DSChiefABI = `[
{"anonymous":true,"type":"event","name":"LogNote","inputs":[
 {"indexed":true,"name":"sig","type":"bytes4"},
 {"indexed":true,"name":"guy","type":"address"},
 {"indexed":true,"name":"foo","type":"bytes32"},
 {"indexed":true,"name":"bar","type":"bytes32"},
 {"indexed":false,"name":"wad","type":"uint256"},
 {"indexed":false,"name":"fax","type":"bytes"}]},
{"type":"function","name":"slates","stateMutability":"view",
 "inputs":[{"name":"","type":"bytes32"},{"name":"","type":"uint256"}],
 "outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"deposits","stateMutability":"view",
 "inputs":[{"name":"","type":"address"}],
 "outputs":[{"name":"","type":"uint256"}]}]`

// PollingEmitterABI covers the Maker poll create and vote contracts.
const PollingEmitterABI = `[
{"anonymous":false,"type":"event","name":"PollCreated","inputs":[
 {"indexed":true,"name":"creator","type":"address"},
 {"indexed":false,"name":"blockCreated","type":"uint256"},
 {"indexed":true,"name":"pollId","type":"uint256"},
 {"indexed":false,"name":"startDate","type":"uint256"},
 {"indexed":false,"name":"endDate","type":"uint256"},
 {"indexed":false,"name":"multiHash","type":"string"},
 {"indexed":false,"name":"url","type":"string"}]},
{"anonymous":false,"type":"event","name":"PollWithdrawn","inputs":[
 {"indexed":true,"name":"creator","type":"address"},
 {"indexed":false,"name":"blockWithdrawn","type":"uint256"},
 {"indexed":false,"name":"pollId","type":"uint256"}]},
{"anonymous":false,"type":"event","name":"Voted","inputs":[
 {"indexed":true,"name":"voter","type":"address"},
 {"indexed":true,"name":"pollId","type":"uint256"},
 {"indexed":true,"name":"optionId","type":"uint256"}]}]`

// Parsed ABIs.
var (
	GovernorBravo    = mustParse(GovernorBravoABI)
	GovernorAlpha    = mustParse(GovernorAlphaABI)
	GovernorOZ       = mustParse(GovernorOZABI)
	AaveGovernanceV2 = mustParse(AaveGovernanceV2ABI)
	AaveExecutor     = mustParse(AaveExecutorABI)
	AaveStrategy     = mustParse(AaveStrategyABI)
	DSChief          = mustParse(DSChiefABI)
	PollingEmitter   = mustParse(PollingEmitterABI)
)

// Topic0 values of the anonymous DSChief LogNote for the two vote overloads.
var (
	ChiefVoteYaysTopic  = common.HexToHash("0xed08132900000000000000000000000000000000000000000000000000000000")
	ChiefVoteSlateTopic = common.HexToHash("0xa69beaba00000000000000000000000000000000000000000000000000000000")
)

// Selectors of the DSChief vote overloads, as carried in the LogNote fax.
var (
	ChiefVoteYaysSelector  = [4]byte{0xed, 0x08, 0x13, 0x29}
	ChiefVoteSlateSelector = [4]byte{0xa6, 0x9b, 0xea, 0xba}
)

func mustParse(raw string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("invalid contract ABI: " + err.Error())
	}
	return &parsed
}
