package match

// Candidate 是策略 search 步骤产出的一条原始结果。
// 在一次解析调用内产生并消费，不做持久化。
type Candidate struct {
	Title      string // 原始标题
	Ref        string // 源标识符或URL，供 fetchDetail 使用
	Status     string // 效力状态（"现行有效"、"已废止" 等），可为空
	PublishSeq int64  // 发布序号/时间戳，仅用作最后的数值决胜
}

// confirmedValid reports whether the candidate's status field explicitly
// marks it currently in force. A missing or unrecognized status is "not
// confirmed valid": it loses the validity tie-break to any confirmed-valid
// candidate but still competes on score among its peers.
func (c *Candidate) confirmedValid() bool {
	switch normalizeStatus(c.Status) {
	case "有效", "现行有效", "in force", "effective", "valid":
		return true
	}
	return false
}
