package model

import "slices"

// IDSet は重複のない識別子の集合。
// 意味上の順序はないが、挿入順を保持して出力を安定させる。
type IDSet []string

// NewIDSet は重複と空文字列を除いたIDSetを返す。
// 引数が空の場合も非nilの空集合を返す。
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, 0, len(ids))
	for _, id := range ids {
		if id == "" || slices.Contains(s, id) {
			continue
		}
		s = append(s, id)
	}
	return s
}

// Contains は id が集合に含まれるかを返す。
func (s IDSet) Contains(id string) bool {
	return slices.Contains(s, id)
}

// Union は id を加えた新しい集合を返す。すでに含まれる場合は内容が変わらない。
// レシーバーは変更しない。
func (s IDSet) Union(id string) IDSet {
	out := NewIDSet(s...)
	if id != "" && !out.Contains(id) {
		out = append(out, id)
	}
	return out
}

// Without は id を除いた新しい集合を返す。含まれない場合は内容が変わらない。
// レシーバーは変更しない。
func (s IDSet) Without(id string) IDSet {
	out := make(IDSet, 0, len(s))
	for _, v := range NewIDSet(s...) {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Equal は順序を無視して同じ要素を持つかを返す。
func (s IDSet) Equal(other IDSet) bool {
	a, b := NewIDSet(s...), NewIDSet(other...)
	if len(a) != len(b) {
		return false
	}
	for _, id := range a {
		if !b.Contains(id) {
			return false
		}
	}
	return true
}

// Clone は集合の複製を返す。nilはnilのまま返す。
func (s IDSet) Clone() IDSet {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}
