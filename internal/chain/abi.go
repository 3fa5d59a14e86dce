package chain

// ABI fragments for the two platform contracts. The vault is a factory: each
// createEscrow call deploys a per-escrow instance and announces it via the
// EscrowCreated event.

const escrowVaultABI = `[
  {"type":"function","name":"createEscrow","stateMutability":"nonpayable","inputs":[
    {"name":"externalId","type":"bytes32"},
    {"name":"depositor","type":"address"},
    {"name":"beneficiary","type":"address"},
    {"name":"amount","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"release","stateMutability":"nonpayable","inputs":[
    {"name":"escrow","type":"address"}],"outputs":[]},
  {"type":"function","name":"releasePartial","stateMutability":"nonpayable","inputs":[
    {"name":"escrow","type":"address"},
    {"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[
    {"name":"escrow","type":"address"}],"outputs":[]},
  {"type":"function","name":"freeze","stateMutability":"nonpayable","inputs":[
    {"name":"escrow","type":"address"}],"outputs":[]},
  {"type":"event","name":"EscrowCreated","inputs":[
    {"name":"externalId","type":"bytes32","indexed":true},
    {"name":"escrow","type":"address","indexed":false}],"anonymous":false}
]`

const documentRegistryABI = `[
  {"type":"function","name":"registerDocument","stateMutability":"nonpayable","inputs":[
    {"name":"contractId","type":"bytes32"},
    {"name":"contentHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"getDocument","stateMutability":"view","inputs":[
    {"name":"contractId","type":"bytes32"}],
   "outputs":[
    {"name":"contentHash","type":"bytes32"},
    {"name":"registeredAt","type":"uint256"},
    {"name":"registeredBy","type":"address"}]}
]`
