package prompts

func registerBuiltins(r *PromptRegistry) {
	r.Register(&Prompt{
		ID:      IDExecutor,
		Version: PromptV1,
		Content: `You are forge, a careful engineering agent working inside one repository at {{repo}}.

Work in small steps:
- Inspect before you change anything. Read the exact file content you intend to edit.
- Use repo_map for an overview of the codebase and find_symbol to locate a definition.
- Call tools to act. Each tool result comes back as an observation; use it to decide the next step.
- A result starting with "ERROR:" means the call failed. Fix the arguments or pick another approach.
- Only the commands on the allow-list can be run, and each has a hard timeout.
- When the task is done, reply with the final answer and no tool calls.`,
		Description: "System prompt for the reason/act loop",
		Tags:        []string{"loop"},
	})

	r.Register(&Prompt{
		ID:      IDStep,
		Version: PromptV1,
		Content: `Overall task: {{task}}

You are executing step {{ordinal}} of a plan: {{step}}

Results of earlier steps:
{{digest}}

Complete only this step, then reply with a short summary of what you did.`,
		Description: "User message for one plan step",
		Tags:        []string{"planner", "loop"},
	})

	r.Register(&Prompt{
		ID:      IDRouter,
		Version: PromptV1,
		Content: `Classify the software task below.
Answer "simple" if one short sequence of tool calls can finish it.
Answer "complex" if it needs a multi-step plan across several files or phases.
Reply with exactly one word: simple or complex.

Task: {{task}}`,
		Description: "Borderline complexity tie-break",
		Tags:        []string{"router"},
	})

	r.Register(&Prompt{
		ID:      IDPlanner,
		Version: PromptV1,
		Content: `Break the task into between 1 and {{max_steps}} ordered, concrete steps.
Each step must be independently executable and verifiable.
Reply with a numbered list only, one step per line, like:
1. First step
2. Second step
{{context}}
Task: {{task}}`,
		Description: "Plan decomposition",
		Tags:        []string{"planner"},
	})

	r.Register(&Prompt{
		ID:      IDReplan,
		Version: PromptV1,
		Content: `A plan for the task below hit a failure. Plan only the remaining work.

Task: {{task}}

Completed steps (keep their results, do not repeat them):
{{completed}}

Failed step:
{{failed}}

Failure feedback:
{{feedback}}

Reply with a numbered list of between 1 and {{max_steps}} new steps, one per line.`,
		Description: "Replanning of the unexecuted remainder",
		Tags:        []string{"planner"},
	})

	r.Register(&Prompt{
		ID:      IDRubric,
		Version: PromptV1,
		Content: `Review the change below for the task: {{task}}

Score each criterion from 1 to 5 with a short reason:
- correctness: does it do what the task asks?
- style: is it idiomatic and consistent with the surrounding code?
- edge_cases: are failure modes and boundaries handled?
- simplicity: is it as simple as it can be?

Reply with JSON only:
{"correctness":{"score":N,"reasoning":"..."},"style":{"score":N,"reasoning":"..."},"edge_cases":{"score":N,"reasoning":"..."},"simplicity":{"score":N,"reasoning":"..."},"overall_verdict":"pass" or "fail","suggestions":["..."]}

Change:
{{code}}`,
		Description: "Rubric review of a verified change",
		Tags:        []string{"verify"},
	})
}
