package indexer

import "github.com/shopspring/decimal"

const BlockRewardsTable = "block_rewards"

// BlockReward is the coinbase split of one block.
type BlockReward struct {
	Block            uint64          `ch:"block" json:"block"`
	MinerReward      decimal.Decimal `ch:"miner_reward" json:"miner_reward"`
	GovernanceReward decimal.Decimal `ch:"governance_reward" json:"governance_reward"`
	ReserveReward    decimal.Decimal `ch:"reserve_reward" json:"reserve_reward"`
}

// BlockRewardColumns is the persisted layout of the block reward series.
var BlockRewardColumns = []ColumnDef{
	heightCol("block"),
	decimalCol("miner_reward"),
	decimalCol("governance_reward"),
	decimalCol("reserve_reward"),
}
