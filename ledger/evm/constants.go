package evm

// RegistryABI is the lot registry contract interface: one atomic
// registration call, per-step validation, and paginated readback.
const RegistryABI = `[
  {"inputs":[{"name":"_title","type":"string"},{"name":"_description","type":"string"},{"name":"_quantity","type":"uint256"},{"name":"_unit","type":"string"},{"name":"_origin","type":"string"},{"name":"_price","type":"uint256"},{"name":"_stepDescriptions","type":"string[]"},{"name":"_stepValidators","type":"address[][]"}],"name":"createLot","outputs":[{"name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"_lotId","type":"uint256"},{"name":"_stepIndex","type":"uint256"}],"name":"validateStep","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"nextLotId","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"_lotId","type":"uint256"}],"name":"getLot","outputs":[{"name":"id","type":"uint256"},{"name":"title","type":"string"},{"name":"description","type":"string"},{"name":"quantity","type":"uint256"},{"name":"unit","type":"string"},{"name":"origin","type":"string"},{"name":"price","type":"uint256"},{"name":"creator","type":"address"},{"name":"createdAt","type":"uint256"},{"name":"exists","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"_lotId","type":"uint256"}],"name":"getLotStepsCount","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"_lotId","type":"uint256"},{"name":"_stepIndex","type":"uint256"}],"name":"getStep","outputs":[{"name":"description","type":"string"},{"name":"validators","type":"address[]"},{"name":"validatedBy","type":"address"},{"name":"validatedAt","type":"uint256"},{"name":"status","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

// EscrowABI is the escrow payment contract interface. The registry accessor
// exposes the binding set at the escrow's own deployment.
const EscrowABI = `[
  {"inputs":[{"name":"_lotId","type":"uint256"}],"name":"depositPayment","outputs":[],"stateMutability":"payable","type":"function"},
  {"inputs":[{"name":"_lotId","type":"uint256"}],"name":"releasePayment","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"_lotId","type":"uint256"}],"name":"refundPayment","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"_lotId","type":"uint256"}],"name":"getPayment","outputs":[{"name":"lotId","type":"uint256"},{"name":"buyer","type":"address"},{"name":"seller","type":"address"},{"name":"amount","type":"uint256"},{"name":"createdAt","type":"uint256"},{"name":"releasedAt","type":"uint256"},{"name":"released","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getPaymentsCount","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"_index","type":"uint256"}],"name":"getPaymentByIndex","outputs":[{"name":"lotId","type":"uint256"},{"name":"buyer","type":"address"},{"name":"seller","type":"address"},{"name":"amount","type":"uint256"},{"name":"createdAt","type":"uint256"},{"name":"releasedAt","type":"uint256"},{"name":"released","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"_lotId","type":"uint256"}],"name":"isLotCompleted","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getContractBalance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"","type":"address"}],"name":"totalReceived","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"","type":"address"}],"name":"totalSpent","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"_lotId","type":"uint256"}],"name":"getLotPrice","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"registry","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`
