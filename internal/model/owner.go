package model

// 账户拥有者类型，用户或者VO组
const (
	OwnerTypeUser = "user"
	OwnerTypeVO   = "vo"
)

// Owner 账户拥有者，用户和VO组通过 {类型, ID} 二元组统一标识
type Owner struct {
	Type string
	ID   string
	Name string
}

func UserOwner(id, name string) Owner {
	return Owner{Type: OwnerTypeUser, ID: id, Name: name}
}

func VoOwner(id, name string) Owner {
	return Owner{Type: OwnerTypeVO, ID: id, Name: name}
}

func IsValidOwnerType(t string) bool {
	return t == OwnerTypeUser || t == OwnerTypeVO
}
