package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor"
	"github.com/holiman/uint256"
	"go.etcd.io/bbolt"
)

// Bucket names for each cached entry kind.
var (
	bucketBalances   = []byte("balances")
	bucketNonces     = []byte("nonces")
	bucketCodeHashes = []byte("codehashes")
	bucketCode       = []byte("code")
	bucketSlots      = []byte("slots")
	bucketBlocks     = []byte("blocks")
)

var _ StateCache = (*persistentStateCache)(nil)

/*
persistentStateCache layers an on-disk bbolt store under the in-memory cache so that RPC results survive across
runs against the same (endpoint, height) pair. The database file name is derived from both, so runs against a
different endpoint or anchor never share entries. Writes are buffered and flushed in batches; reads fall back from
memory to disk and re-populate memory on a hit. Persistence is purely an optimization: correctness must hold with
the in-memory cache alone.
*/
type persistentStateCache struct {
	memCache *nonPersistentStateCache
	db       *bbolt.DB

	pendingWriteMutex sync.Mutex
	pendingWrites     []pendingWrite
	flushThreshold    int
}

type pendingWrite struct {
	bucket []byte
	key    []byte
	value  []byte
}

// Serialized record shapes. Balances and base fees are stored as big-endian byte strings since uint256.Int has no
// CBOR codec of its own.
type balanceRecord struct {
	Balance []byte `cbor:"balance"`
}

type nonceRecord struct {
	Nonce uint64 `cbor:"nonce"`
}

type codeHashRecord struct {
	CodeHash []byte `cbor:"codeHash"`
}

type codeRecord struct {
	Code []byte `cbor:"code"`
}

type slotRecord struct {
	Data []byte `cbor:"data"`
}

type blockMetaRecord struct {
	Number    uint64 `cbor:"number"`
	Hash      []byte `cbor:"hash"`
	Timestamp uint64 `cbor:"timestamp"`
	BaseFee   []byte `cbor:"baseFeePerGas"`
	GasLimit  uint64 `cbor:"gasLimit"`
}

// NewPersistentCache creates a StateCache backed by a bbolt database under cacheDir, scoped to the given RPC
// endpoint and block height. The database is closed when ctx is cancelled.
func NewPersistentCache(ctx context.Context, cacheDir string, rpcAddr string, height uint64) (StateCache, error) {
	if err := createCacheDirectory(cacheDir); err != nil {
		return nil, err
	}
	cacheFile := filepath.Join(cacheDir, getCacheFilename(rpcAddr, height))
	db, err := bbolt.Open(cacheFile, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open cache db: %v", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketBalances, bucketNonces, bucketCodeHashes, bucketCode, bucketSlots, bucketBlocks} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p := &persistentStateCache{
		memCache:       newNonPersistentStateCache(),
		db:             db,
		flushThreshold: 25,
		pendingWrites:  []pendingWrite{},
	}

	// close db once the run ends
	go func() {
		<-ctx.Done()
		if err := p.Close(); err != nil {
			log.Printf("error closing cache database: %v", err)
		}
	}()

	return p, nil
}

func (p *persistentStateCache) getFromPersist(bucket []byte, key []byte, record interface{}) (bool, error) {
	found := false
	err := p.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return cbor.Unmarshal(data, record)
	})
	if err != nil {
		return false, fmt.Errorf("could not read cache db: %v", err)
	}
	return found, nil
}

func (p *persistentStateCache) writeToPersist(bucket []byte, key []byte, record interface{}) error {
	serialized, err := cbor.Marshal(record, cbor.EncOptions{})
	if err != nil {
		return err
	}

	p.pendingWriteMutex.Lock()
	defer p.pendingWriteMutex.Unlock()

	p.pendingWrites = append(p.pendingWrites, pendingWrite{bucket: bucket, key: key, value: serialized})
	if len(p.pendingWrites) >= p.flushThreshold {
		return p.flushWrites()
	}
	return nil
}

// flushWrites commits all buffered writes in one transaction. Callers must hold pendingWriteMutex.
func (p *persistentStateCache) flushWrites() error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		for _, pw := range p.pendingWrites {
			if err := tx.Bucket(pw.bucket).Put(pw.key, pw.value); err != nil {
				return err
			}
		}
		p.pendingWrites = p.pendingWrites[:0]
		return nil
	})
}

func (p *persistentStateCache) GetBalance(addr common.Address) (*uint256.Int, error) {
	if balance, err := p.memCache.GetBalance(addr); err == nil {
		return balance, nil
	}

	record := balanceRecord{}
	exists, err := p.getFromPersist(bucketBalances, addr[:], &record)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrCacheMiss
	}
	balance := new(uint256.Int).SetBytes(record.Balance)
	return balance, p.memCache.WriteBalance(addr, balance)
}

func (p *persistentStateCache) WriteBalance(addr common.Address, balance *uint256.Int) error {
	if err := p.memCache.WriteBalance(addr, balance); err != nil {
		return err
	}
	return p.writeToPersist(bucketBalances, addr[:], balanceRecord{Balance: balance.Bytes()})
}

func (p *persistentStateCache) GetNonce(addr common.Address) (uint64, error) {
	if nonce, err := p.memCache.GetNonce(addr); err == nil {
		return nonce, nil
	}

	record := nonceRecord{}
	exists, err := p.getFromPersist(bucketNonces, addr[:], &record)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrCacheMiss
	}
	return record.Nonce, p.memCache.WriteNonce(addr, record.Nonce)
}

func (p *persistentStateCache) WriteNonce(addr common.Address, nonce uint64) error {
	if err := p.memCache.WriteNonce(addr, nonce); err != nil {
		return err
	}
	return p.writeToPersist(bucketNonces, addr[:], nonceRecord{Nonce: nonce})
}

func (p *persistentStateCache) GetCodeHash(addr common.Address) (common.Hash, error) {
	if codeHash, err := p.memCache.GetCodeHash(addr); err == nil {
		return codeHash, nil
	}

	record := codeHashRecord{}
	exists, err := p.getFromPersist(bucketCodeHashes, addr[:], &record)
	if err != nil {
		return common.Hash{}, err
	}
	if !exists {
		return common.Hash{}, ErrCacheMiss
	}
	codeHash := common.BytesToHash(record.CodeHash)
	return codeHash, p.memCache.WriteCodeHash(addr, codeHash)
}

func (p *persistentStateCache) WriteCodeHash(addr common.Address, codeHash common.Hash) error {
	if err := p.memCache.WriteCodeHash(addr, codeHash); err != nil {
		return err
	}
	return p.writeToPersist(bucketCodeHashes, addr[:], codeHashRecord{CodeHash: codeHash[:]})
}

func (p *persistentStateCache) GetCode(codeHash common.Hash) ([]byte, error) {
	if code, err := p.memCache.GetCode(codeHash); err == nil {
		return code, nil
	}

	record := codeRecord{}
	exists, err := p.getFromPersist(bucketCode, codeHash[:], &record)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrCacheMiss
	}
	return record.Code, p.memCache.WriteCode(codeHash, record.Code)
}

func (p *persistentStateCache) WriteCode(codeHash common.Hash, code []byte) error {
	if err := p.memCache.WriteCode(codeHash, code); err != nil {
		return err
	}
	return p.writeToPersist(bucketCode, codeHash[:], codeRecord{Code: code})
}

func (p *persistentStateCache) GetSlotData(addr common.Address, slot common.Hash) (common.Hash, error) {
	if data, err := p.memCache.GetSlotData(addr, slot); err == nil {
		return data, nil
	}

	record := slotRecord{}
	key := append(addr[:], slot[:]...)
	exists, err := p.getFromPersist(bucketSlots, key, &record)
	if err != nil {
		return common.Hash{}, err
	}
	if !exists {
		return common.Hash{}, ErrCacheMiss
	}
	data := common.BytesToHash(record.Data)
	return data, p.memCache.WriteSlotData(addr, slot, data)
}

func (p *persistentStateCache) WriteSlotData(addr common.Address, slot common.Hash, data common.Hash) error {
	if err := p.memCache.WriteSlotData(addr, slot, data); err != nil {
		return err
	}
	key := append(addr[:], slot[:]...)
	return p.writeToPersist(bucketSlots, key, slotRecord{Data: data[:]})
}

func (p *persistentStateCache) GetBlockMeta(number uint64) (*BlockMeta, error) {
	if meta, err := p.memCache.GetBlockMeta(number); err == nil {
		return meta, nil
	}

	record := blockMetaRecord{}
	exists, err := p.getFromPersist(bucketBlocks, blockKey(number), &record)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrCacheMiss
	}
	meta := &BlockMeta{
		Number:    record.Number,
		Hash:      common.BytesToHash(record.Hash),
		Timestamp: record.Timestamp,
		BaseFee:   new(uint256.Int).SetBytes(record.BaseFee),
		GasLimit:  record.GasLimit,
	}
	return meta, p.memCache.WriteBlockMeta(number, meta)
}

func (p *persistentStateCache) WriteBlockMeta(number uint64, meta *BlockMeta) error {
	if err := p.memCache.WriteBlockMeta(number, meta); err != nil {
		return err
	}
	record := blockMetaRecord{
		Number:    meta.Number,
		Hash:      meta.Hash[:],
		Timestamp: meta.Timestamp,
		GasLimit:  meta.GasLimit,
	}
	if meta.BaseFee != nil {
		record.BaseFee = meta.BaseFee.Bytes()
	}
	return p.writeToPersist(bucketBlocks, blockKey(number), record)
}

// Close flushes buffered writes and closes the underlying database.
func (p *persistentStateCache) Close() error {
	p.pendingWriteMutex.Lock()
	defer p.pendingWriteMutex.Unlock()

	if err := p.flushWrites(); err != nil {
		return err
	}
	return p.db.Close()
}

func blockKey(number uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, number)
	return key
}

func createCacheDirectory(cachePath string) error {
	_, err := os.Stat(cachePath)
	if os.IsNotExist(err) {
		if err = os.MkdirAll(cachePath, 0755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to check cache directory: %w", err)
	}
	return nil
}

// getCacheFilename derives the database file name from the endpoint and anchored height so that caches for
// different forks never collide.
func getCacheFilename(rpcAddr string, height uint64) string {
	h := sha256.New()
	h.Write([]byte(rpcAddr))
	bs := h.Sum(nil)

	return fmt.Sprintf("%d-%x.dat", height, bs[0:10])
}
