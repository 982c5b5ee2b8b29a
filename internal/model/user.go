package model

// Identity 已认证的用户身份
type Identity struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// PresenceEntry 在线用户条目
type PresenceEntry struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// PresenceSnapshot 当前在线用户快照，由连接注册表按需计算，不落库
type PresenceSnapshot []PresenceEntry

// Contains 判断快照中是否包含指定用户
func (s PresenceSnapshot) Contains(userID int64) bool {
	for _, e := range s {
		if e.UserID == userID {
			return true
		}
	}
	return false
}

// UserIDs 返回快照中的用户 ID 列表
func (s PresenceSnapshot) UserIDs() []int64 {
	ids := make([]int64, 0, len(s))
	for _, e := range s {
		ids = append(ids, e.UserID)
	}
	return ids
}
