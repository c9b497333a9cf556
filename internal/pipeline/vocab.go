package pipeline

// The definition sheet marks three special sub-groupings with a
// category-only row; indicators that follow attach to the subcategory
// instead of the board, but only when their display name is a known
// member. The marker names and member lists are fixed domain vocabulary
// from the sheet, not configuration.

const (
	markerEmploymentBySector = "分部门新增就业" // employment by sector
	markerCPIComponents      = "分项 CPI"       // CPI by component
	markerUnemploymentTypes  = "季调各类型失业率" // unemployment rate by type, seasonally adjusted
)

// subgroupMembers maps each marker to the closed set of indicator
// display names that belong under it.
var subgroupMembers = map[string]map[string]struct{}{
	markerEmploymentBySector: newSet(
		"采矿业",
		"建筑业",
		"制造业",
		"批发业",
		"零售业",
		"运输仓储业",
		"公用事业",
		"信息业",
		"金融活动",
		"专业和商业服务",
		"教育和保健服务",
		"休闲和酒店业",
		"其他服务业",
		"政府",
	),
	markerCPIComponents: newSet(
		"食品",
		"家庭食品",
		"在外饮食",
		"能源",
		"能源商品",
		"燃油和其他燃料",
		"发动机燃料（汽油）",
		"能源服务",
		"电力",
		"公用管道燃气服务",
		"核心商品（不含食品和能源类）",
		"家具和其他家用产品",
		"服饰",
		"交通工具（不含汽车燃料）",
		"新车",
		"二手汽车和卡车",
		"机动车部件和设备",
		"医疗用品",
		"酒精饮料",
		"核心服务（不含能源）",
		"住所",
		"房租",
		"水、下水道和垃圾回收",
		"家庭运营",
		"医疗服务",
		"运输服务",
	),
	markerUnemploymentTypes: newSet(
		"U-1",
		"U-2",
		"U-3",
		"U-4",
		"U-5",
		"U-6",
	),
}

// isSubgroupMarker reports whether a category-only row introduces one of
// the known sub-groupings. Other markers are plain category rows.
func isSubgroupMarker(name string) bool {
	_, ok := subgroupMembers[name]
	return ok
}

// subgroupContains reports whether an indicator display name belongs to
// the given marker's member list.
func subgroupContains(marker, indicator string) bool {
	members, ok := subgroupMembers[marker]
	if !ok {
		return false
	}
	_, ok = members[indicator]
	return ok
}

func newSet(names ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}
