package objectmap

import (
	"bytes"
	"encoding/json"
	"fmt"

	"ndnstore/pkg/core"
	"ndnstore/pkg/mtree"
)

// Item 是 map 中的一项
type Item struct {
	Key   string     `json:"key"`
	ObjId core.ObjId `json:"obj_id"`
}

// LeafHash = H(key ‖ objid hash)
func LeafHash(method core.HashMethod, key string, id core.ObjId) []byte {
	h := method.New()
	h.Write([]byte(key))
	h.Write(id.ObjHash)
	return h.Sum(nil)
}

// Proof 证明 Item 属于某个 root
// Proof[0] 是叶子，Proof[last] 是 root
type Proof struct {
	Item  Item
	Proof []mtree.ProofNode
}

type proofWire struct {
	Key   string            `json:"key"`
	ObjId core.ObjId        `json:"obj_id"`
	Proof []mtree.ProofNode `json:"proof"`
}

func (p Proof) MarshalJSON() ([]byte, error) {
	return json.Marshal(proofWire{Key: p.Item.Key, ObjId: p.Item.ObjId, Proof: p.Proof})
}

func (p *Proof) UnmarshalJSON(data []byte) error {
	var w proofWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: object map proof: %v", core.ErrInvalidData, err)
	}
	p.Item = Item{Key: w.Key, ObjId: w.ObjId}
	p.Proof = w.Proof
	return nil
}

// VerifyProof 不访问任何存储，只依赖 root 和 proof 本身
// 任何一步不一致都返回 ErrVerify
func VerifyProof(rootBase32 string, method core.HashMethod, p *Proof) error {
	if p == nil || len(p.Proof) < 2 {
		return fmt.Errorf("%w: proof needs leaf and root", core.ErrVerify)
	}

	leaf := LeafHash(method, p.Item.Key, p.Item.ObjId)
	if !bytes.Equal(leaf, p.Proof[0].Hash) {
		return fmt.Errorf("%w: leaf hash mismatch for key %q", core.ErrVerify, p.Item.Key)
	}

	root, err := core.Base32Encoding.DecodeString(rootBase32)
	if err != nil {
		return fmt.Errorf("%w: decode root: %v", core.ErrVerify, err)
	}
	if !bytes.Equal(root, p.Proof[len(p.Proof)-1].Hash) {
		return fmt.Errorf("%w: proof root does not match expected root", core.ErrVerify)
	}

	return mtree.Verify(method, p.Proof)
}
