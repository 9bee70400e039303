package store

// Column is one of the independent, named keyspaces the store exposes.
// Each column is a distinct bbolt bucket, created idempotently on Open.
type Column string

const (
	ColDAGBlocks          Column = "dag_blocks"
	ColDAGBlocksIndex     Column = "dag_blocks_index"
	ColDAGBlocksState     Column = "dag_blocks_state"
	ColDAGBlockPeriod     Column = "dag_block_period"
	ColDAGFinalizedBlocks Column = "dag_finalized_blocks"
	ColTransactions       Column = "transactions"
	ColTrxStatus          Column = "trx_status"
	ColPBFTBlocks         Column = "pbft_blocks"
	ColPBFTHead           Column = "pbft_head"
	ColPeriodPBFTBlock    Column = "period_pbft_block"
	ColVotes              Column = "votes"
	ColPBFTMgr            Column = "pbft_mgr"
	ColStatus             Column = "status"
	ColReplayWindow       Column = "replay_window"
	ColReceipts           Column = "receipts"
)

// allColumns is the registered column list created on Open. Adding a
// new column means adding it here.
var allColumns = []Column{
	ColDAGBlocks,
	ColDAGBlocksIndex,
	ColDAGBlocksState,
	ColDAGBlockPeriod,
	ColDAGFinalizedBlocks,
	ColTransactions,
	ColTrxStatus,
	ColPBFTBlocks,
	ColPBFTHead,
	ColPeriodPBFTBlock,
	ColVotes,
	ColPBFTMgr,
	ColStatus,
	ColReplayWindow,
	ColReceipts,
}

// Status column singleton keys.
const (
	statusKeyMajorVersion     = "db_major_version"
	statusKeyMinorVersion     = "db_minor_version"
	statusKeyDAGBlockCount    = "dag_blk_count"
	statusKeyDAGEdgeCount     = "dag_edge_count"
	statusKeyNumExecutedBlock = "num_executed_blocks"
	statusKeySnapshotPeriods  = "snapshot_periods"
)
