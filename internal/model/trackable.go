package model

// FieldKind 可追踪字段的存储类别
type FieldKind int

const (
	FieldConcrete        FieldKind = iota // 普通列
	FieldForeignKey                       // 外键列
	FieldManyToMany                       // 多对多（中间表）
	FieldReverseRelation                  // 反向一对多，不可存储，不参与权限矩阵
)

// String 返回字段类别名称
func (k FieldKind) String() string {
	switch k {
	case FieldConcrete:
		return "concrete"
	case FieldForeignKey:
		return "foreign_key"
	case FieldManyToMany:
		return "many_to_many"
	case FieldReverseRelation:
		return "reverse_relation"
	}
	return "unknown"
}

// TrackableField 可追踪模型的一个字段
// Column 为可直接写入的列名，多对多与反向关系为空
type TrackableField struct {
	Name   string
	Column string
	Kind   FieldKind
}

// Storable 是否对应权限矩阵中的一个单元
func (f TrackableField) Storable() bool { return f.Kind != FieldReverseRelation }

// TrackableModel 参与字段级权限控制的模型声明
type TrackableModel struct {
	Name        string
	Description string
	Fields      []TrackableField
}

// Field 按名称查找字段
func (m TrackableModel) Field(name string) (TrackableField, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return TrackableField{}, false
}

func concrete(name string) TrackableField { return TrackableField{Name: name, Column: name, Kind: FieldConcrete} }

func foreignKey(name, column string) TrackableField {
	return TrackableField{Name: name, Column: column, Kind: FieldForeignKey}
}

func manyToMany(name string) TrackableField { return TrackableField{Name: name, Kind: FieldManyToMany} }

func reverse(name string) TrackableField { return TrackableField{Name: name, Kind: FieldReverseRelation} }

// trackableModels 可追踪模型能力表，启动时一次性构建
var trackableModels = []TrackableModel{
	{
		Name:        "Owner",
		Description: "Owner",
		Fields: []TrackableField{
			concrete("id"), concrete("name"), concrete("family"), concrete("patronymic"),
			concrete("domain"), concrete("login"), concrete("password"), concrete("active"),
			reverse("history"),
		},
	},
	{
		Name:        "Tag",
		Description: "Tag",
		Fields: []TrackableField{
			concrete("id"), concrete("name"), concrete("weight"),
			manyToMany("device"),
		},
	},
	{
		Name:        "DeviceType",
		Description: "Device Type",
		Fields: []TrackableField{
			concrete("id"), concrete("name"), concrete("description"),
			reverse("device"),
		},
	},
	{
		Name:        "DeviceGroup",
		Description: "Device Group",
		Fields: []TrackableField{
			concrete("id"), foreignKey("parent", "parent_id"), concrete("name"),
			reverse("devicegroup"), reverse("device"),
		},
	},
	{
		Name:        "Device",
		Description: "Device",
		Fields: []TrackableField{
			concrete("id"), concrete("name"), foreignKey("group", "group_id"),
			foreignKey("device_type", "device_type_id"), concrete("created"), concrete("tz"),
			concrete("status"), manyToMany("tags"), concrete("extinfo"),
			reverse("history"),
		},
	},
	{
		Name:        "History",
		Description: "History",
		Fields: []TrackableField{
			concrete("id"), concrete("created"), concrete("closed"),
			foreignKey("device", "device_id"), foreignKey("owner", "owner_id"),
		},
	},
}

// TrackableModels 返回全部可追踪模型声明
func TrackableModels() []TrackableModel {
	result := make([]TrackableModel, len(trackableModels))
	copy(result, trackableModels)
	return result
}

// LookupTrackable 按模型名查找声明
func LookupTrackable(name string) (TrackableModel, bool) {
	for _, m := range trackableModels {
		if m.Name == name {
			return m, true
		}
	}
	return TrackableModel{}, false
}
