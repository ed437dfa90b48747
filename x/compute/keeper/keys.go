package keeper

import (
	"encoding/binary"

	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/address"
)

var (
	// ParamsKey is the key for module parameters
	ParamsKey = []byte{0x01}

	// NodeKeyPrefix is the prefix for node registry records
	NodeKeyPrefix = []byte{0x02}

	// GPUIndexPrefix indexes available nodes by gpu id, vram and address
	GPUIndexPrefix = []byte{0x03}

	// VramIndexPrefix indexes available nodes by vram and address
	VramIndexPrefix = []byte{0x04}

	// TaskKeyPrefix is the prefix for live task storage
	TaskKeyPrefix = []byte{0x05}

	// NextTaskIDKey is the key for the next task ID counter
	NextTaskIDKey = []byte{0x06}

	// QueueKeyPrefix orders queued tasks by fee and submission
	QueueKeyPrefix = []byte{0x07}

	// QueueSizeKey tracks the number of queued tasks
	QueueSizeKey = []byte{0x08}

	// QosKeyPrefix is the prefix for per-node QoS records
	QosKeyPrefix = []byte{0x09}

	// SlashRecordKeyPrefix is the prefix for slash record storage
	SlashRecordKeyPrefix = []byte{0x0A}

	// SlashRecordsByNodePrefix is the prefix for indexing slash records by node
	SlashRecordsByNodePrefix = []byte{0x0B}

	// NextSlashIDKey is the key for the next slash ID counter
	NextSlashIDKey = []byte{0x0C}

	// AvailableCountKey tracks the number of indexed available nodes
	AvailableCountKey = []byte{0x0D}
)

const gpuIDLength = 32

func uint64Bytes(v uint64) []byte {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, v)
	return bz
}

// NodeKey returns the store key for a node record
func NodeKey(addr sdk.AccAddress) []byte {
	return append(append([]byte{}, NodeKeyPrefix...), addr.Bytes()...)
}

// GPUIndexKey returns the index key of an available node under its gpu group
func GPUIndexKey(gpuID []byte, vram uint64, addr sdk.AccAddress) []byte {
	key := make([]byte, 0, len(GPUIndexPrefix)+gpuIDLength+8+len(addr))
	key = append(key, GPUIndexPrefix...)
	key = append(key, gpuID...)
	key = append(key, uint64Bytes(vram)...)
	return append(key, addr.Bytes()...)
}

// GPUIndexGroupPrefix returns the prefix of all available nodes of one gpu group
func GPUIndexGroupPrefix(gpuID []byte, vram uint64) []byte {
	key := append(append([]byte{}, GPUIndexPrefix...), gpuID...)
	return append(key, uint64Bytes(vram)...)
}

// GPUIndexIDPrefix returns the prefix of all available nodes with a gpu id
func GPUIndexIDPrefix(gpuID []byte) []byte {
	return append(append([]byte{}, GPUIndexPrefix...), gpuID...)
}

// splitGPUIndexKey decodes a key produced by GPUIndexKey without its prefix
func splitGPUIndexKey(key []byte) (gpuID []byte, vram uint64, addr sdk.AccAddress) {
	gpuID = key[:gpuIDLength]
	vram = binary.BigEndian.Uint64(key[gpuIDLength : gpuIDLength+8])
	addr = sdk.AccAddress(key[gpuIDLength+8:])
	return gpuID, vram, addr
}

// VramIndexKey returns the index key of an available node under its vram tier
func VramIndexKey(vram uint64, addr sdk.AccAddress) []byte {
	key := append(append([]byte{}, VramIndexPrefix...), uint64Bytes(vram)...)
	return append(key, addr.Bytes()...)
}

// TaskKey returns the store key for a task
func TaskKey(id uint64) []byte {
	return append(append([]byte{}, TaskKeyPrefix...), uint64Bytes(id)...)
}

// QueueKey orders entries so that reverse iteration yields the highest fee
// first and, among equal fees, the lowest task id first.
func QueueKey(fee math.Int, taskID uint64) []byte {
	key := make([]byte, len(QueueKeyPrefix)+32+8)
	copy(key, QueueKeyPrefix)
	fee.BigInt().FillBytes(key[len(QueueKeyPrefix) : len(QueueKeyPrefix)+32])
	binary.BigEndian.PutUint64(key[len(QueueKeyPrefix)+32:], ^taskID)
	return key
}

// QosKey returns the store key for a node's QoS record
func QosKey(addr sdk.AccAddress) []byte {
	return append(append([]byte{}, QosKeyPrefix...), addr.Bytes()...)
}

// SlashRecordKey returns the store key for a slash record
func SlashRecordKey(id uint64) []byte {
	return append(append([]byte{}, SlashRecordKeyPrefix...), uint64Bytes(id)...)
}

// SlashRecordsByNodeKey returns the prefix of a node's slash record index
func SlashRecordsByNodeKey(addr sdk.AccAddress) []byte {
	return append(append([]byte{}, SlashRecordsByNodePrefix...), address.MustLengthPrefix(addr)...)
}

// SlashRecordByNodeKey indexes a slash record under its node
func SlashRecordByNodeKey(addr sdk.AccAddress, id uint64) []byte {
	return append(SlashRecordsByNodeKey(addr), uint64Bytes(id)...)
}
