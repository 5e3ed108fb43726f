package contract

import (
	"crypto/x509"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// mockStub is an in-memory world state implementing just the stub surface the
// contract touches. Iteration is over sorted keys so range scans are
// deterministic, matching the ledger's lexicographic ordering.
type mockStub struct {
	shim.ChaincodeStubInterface

	state  map[string][]byte
	txID   string
	txTime time.Time
	events []mockEvent
}

type mockEvent struct {
	name    string
	payload []byte
}

func newMockStub(txTime time.Time) *mockStub {
	return &mockStub{
		state:  make(map[string][]byte),
		txID:   "tx-0001",
		txTime: txTime,
	}
}

func (m *mockStub) GetState(key string) ([]byte, error) {
	v, ok := m.state[key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *mockStub) PutState(key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.state[key] = cp
	return nil
}

func (m *mockStub) DelState(key string) error {
	delete(m.state, key)
	return nil
}

const compositeKeyNamespace = "\x00"

func (m *mockStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	ck := compositeKeyNamespace + objectType + string(rune(0))
	for _, att := range attributes {
		ck += att + string(rune(0))
	}
	return ck, nil
}

func (m *mockStub) GetStateByPartialCompositeKey(objectType string, keys []string) (shim.StateQueryIteratorInterface, error) {
	prefix, _ := m.CreateCompositeKey(objectType, keys)
	matching := []string{}
	for k := range m.state {
		if strings.HasPrefix(k, prefix) {
			matching = append(matching, k)
		}
	}
	sort.Strings(matching)

	kvs := make([]*queryresult.KV, 0, len(matching))
	for _, k := range matching {
		kvs = append(kvs, &queryresult.KV{Key: k, Value: m.state[k]})
	}
	return &mockIterator{kvs: kvs}, nil
}

func (m *mockStub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(m.txTime), nil
}

func (m *mockStub) GetTxID() string {
	return m.txID
}

func (m *mockStub) SetEvent(name string, payload []byte) error {
	m.events = append(m.events, mockEvent{name: name, payload: payload})
	return nil
}

// lastEvent returns the most recently set event name, or "".
func (m *mockStub) lastEvent() string {
	if len(m.events) == 0 {
		return ""
	}
	return m.events[len(m.events)-1].name
}

type mockIterator struct {
	kvs []*queryresult.KV
	idx int
}

func (it *mockIterator) HasNext() bool {
	return it.idx < len(it.kvs)
}

func (it *mockIterator) Next() (*queryresult.KV, error) {
	if !it.HasNext() {
		return nil, fmt.Errorf("no more items")
	}
	kv := it.kvs[it.idx]
	it.idx++
	return kv, nil
}

func (it *mockIterator) Close() error { return nil }

// mockClientIdentity satisfies cid.ClientIdentity for a named test actor.
type mockClientIdentity struct {
	fullID string
	mspID  string
}

func (m *mockClientIdentity) GetID() (string, error)    { return m.fullID, nil }
func (m *mockClientIdentity) GetMSPID() (string, error) { return m.mspID, nil }
func (m *mockClientIdentity) GetAttributeValue(attrName string) (string, bool, error) {
	return "", false, nil
}
func (m *mockClientIdentity) AssertAttributeValue(attrName, attrValue string) error { return nil }
func (m *mockClientIdentity) GetX509Certificate() (*x509.Certificate, error)        { return nil, nil }

// testContext pairs the shared stub with one actor's identity.
type testContext struct {
	stub     *mockStub
	identity *mockClientIdentity
}

func (c *testContext) GetStub() shim.ChaincodeStubInterface { return c.stub }
func (c *testContext) GetClientIdentity() cid.ClientIdentity {
	return c.identity
}

// registryTestEnv is the shared fixture: one contract, one world state,
// contexts minted per actor.
type registryTestEnv struct {
	contract *DidRegistrySmartContract
	stub     *mockStub
}

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv() *registryTestEnv {
	return &registryTestEnv{
		contract: NewDidRegistryContract(),
		stub:     newMockStub(testEpoch),
	}
}

func fullIDFor(cn string) string {
	return "x509::CN=" + cn + "::OU=client"
}

// as mints a transaction context for the named actor against the shared state.
func (e *registryTestEnv) as(cn string) *testContext {
	return &testContext{
		stub:     e.stub,
		identity: &mockClientIdentity{fullID: fullIDFor(cn), mspID: "Org1MSP"},
	}
}

// advance moves the transaction clock forward for subsequent calls.
func (e *registryTestEnv) advance(d time.Duration) {
	e.stub.txTime = e.stub.txTime.Add(d)
}
