package service

import "localrank/internal/phase"

// blueprintTasks 新项目的默认检查清单，按阶段划分，来源于各阶段描述
var blueprintTasks = map[phase.Number][]string{
	1: {
		"Create client accounts",
		"Claim Google Business Profile",
		"Launch website",
	},
	2: {
		"Identify top local competitors",
		"Research target keywords",
		"Audit competitor reviews",
	},
	3: {
		"Fix technical SEO issues",
		"Publish service pages",
		"Build local citations",
	},
	4: {
		"Add reviews and trust badges",
		"Install lead capture forms",
		"Set up call tracking",
	},
	5: {
		"Publish blog content",
		"Expand to neighboring locations",
	},
	6: {
		"Review ranking report",
		"Plan next quarter improvements",
	},
}
