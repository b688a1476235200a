// Package prompts holds the system and user prompt templates for every
// pipeline stage. Templates are plain strings with fmt verbs filled in by the
// builder functions; stages never assemble prompt text themselves.
package prompts

import (
	"fmt"
	"strings"
)

// ConstraintExtraction asks the model to recover the main task plus a fixed
// number of free-form constraints from an existing piece of content. The
// response must follow the "Main Task:" / "Constraints:" layout that
// generator.parseExtraction expects.
const ConstraintExtraction = `You are a writing expert. I am going to give you a %[1]s as an input.
You can assume that a large language model (LLM) generated the %[1]s.

Your task has two parts:
1. Identify the main task of the %[1]s in one sentence.
   - Phrase the main task as an instruction. For example: "Write a %[1]s about strategies for successful remote working."
2. Generate a set of %[2]d free-form constraints that you think might have been given to the LLM to generate the %[1]s.
   - DO NOT REPEAT CONSTRAINTS.
   - Constraints must be atomic (a single indivisible condition). If a constraint can be broken into smaller constraints, do so.
   - Avoid proper nouns in your constraints.
   - Constraints should drive at least a few sentences in the %[1]s (do not write constraints that map to only one line).
   - Constraints must strictly pertain to the content, ideas, arguments, or narrative direction of the %[1]s and should influence how it develops.
   - If (and only if) you cannot write %[2]d atomic, content-based constraints, give stylistic constraints based on how the %[1]s is written (tone, use of examples, formatting, etc.).
   - Write all constraints in the form of instructions. For example: "The %[1]s should include practical tips."
   - Randomize the order of the constraints so the list does not follow the structure of the %[1]s.

Output format:

Main Task: <one sentence instruction>

Constraints:
1. <constraint one>
2. <constraint two>
...
%[2]d. <constraint %[2]d>`

// CommonConstraintExtraction is the paired variant: the main task and every
// constraint must hold for BOTH inputs, with specificity scaling with how
// similar the two pieces are.
const CommonConstraintExtraction = `You are a writing expert. You will be given two %[1]ss (A and B) as input.
You can assume that a large language model (LLM) generated each one.

Your task has two parts:
1. Identify a common main task that applies to BOTH %[1]ss.
   - The main task must be implied by BOTH inputs; every detail in the task must be directly present in both.
   - The more similar the inputs, the more specific the main task can be.
   - The more dissimilar the inputs, the more general the main task should be.
   - Phrase the main task as an instruction.
2. Generate a set of %[2]d free-form constraints that apply to BOTH %[1]ss.
   - Each constraint must be satisfied by BOTH inputs.
   - DO NOT REPEAT CONSTRAINTS.
   - Constraints must be atomic (a single indivisible condition).
   - Avoid proper nouns in your constraints.
   - Constraints should drive at least a few sentences in both inputs.
   - The more similar the inputs, the more specific the constraints should be; the more dissimilar, the more general.
   - Write all constraints in the form of instructions.
   - Randomize the order of the constraints.

Output format:

Main Task: <one sentence instruction>

Constraints:
1. <constraint one>
2. <constraint two>
...
%[2]d. <constraint %[2]d>`

// BaseGeneration produces unconstrained content for a task.
const BaseGeneration = `You are a creative writing expert. I will give you a task description, and you need to generate %[1]s content that fulfills the task.

The content should be:
- Well-structured and coherent
- Engaging and creative
- Of appropriate length (aim for 400 words)
- Natural and authentic in tone

Generate the %[1]s based on the following task:`

// ConstraintFitting revises base content toward a constraint list while
// keeping it coherent. The word cap keeps fitted and base drafts comparable.
const ConstraintFitting = `You are a creative writing expert. I will give you:
1. A task description
2. Base %[1]s content
3. A list of %[2]d constraints

Your job is to revise and expand the base content to satisfy the constraints while maintaining coherence, quality, and natural flow. Restrict the length of output to 500 words.

Instructions:
- Keep the core ideas from the base content
- Integrate constraints seamlessly where they fit naturally
- Prioritize natural flow and readability over satisfying every single constraint
- It is acceptable to skip constraints if they force the writing to be awkward
- Maintain a natural, engaging writing style
- Do not mention the constraints explicitly in the content
- Aim for completeness; the content should feel finished and polished`

// Evaluation asks for a strict per-constraint yes/no judgement. The response
// must use one "N. Yes - explanation" or "N. No - explanation" line per
// constraint, which is what eval.parseVerdicts consumes.
const Evaluation = `You are an expert reader. I will give you a %[1]s followed by a set of constraints.
Carefully read both and decide, for each constraint, whether the %[1]s satisfies it.

Output yes/no for each constraint, followed by a one line explanation of why it is satisfied or violated.
If a constraint is satisfied, quote the sentence or line in which it is satisfied.
If a constraint is not satisfied, explain how it is violated. Be very strict in your evaluation.
Mark a constraint as satisfied ("Yes") only if it is completely satisfied. For no satisfaction or partial satisfaction, mark it "No".
Finally, print the number of constraints satisfied.

Use exactly this output format, one line per constraint:
1. Yes - <explanation>
2. No - <explanation>
...
Number of constraints satisfied: <number>`

// PairwiseQuality asks a judge to compare two pieces of content on grammar,
// coherence and likability. The response layout ("A - 4/5", "Preference: A",
// "Overall Winner: B") is what eval.parseQuality consumes.
const PairwiseQuality = `You are an English writing expert and you can compare and evaluate two %[1]ss on these metrics with the following definitions -
    1. Grammar: Which %[1]s has better writing and grammar comparatively?
    2. Coherence: Which %[1]s has a better logical flow and the writing fits together?
    3. Likability: Which %[1]s do you find more enjoyable to read?
You will be given two %[1]ss - %[2]s A and %[2]s B.
Add a rating out of 5 for each category, specify which %[1]s you prefer for each metric by responding with just the letter "A" or "B" followed by a hyphen and one line reasoning for your preference.
For each category provide the preference as "Preference: A" or "Preference: B", based on the category ratings.
Finally, assign an overall winner as "Overall Winner: A" or "Overall Winner: B" based on the ratings and category preferences.

Use exactly this output format:
Grammar: A - <rating>/5, B - <rating>/5. Preference: <A or B> - <one line reasoning>
Coherence: A - <rating>/5, B - <rating>/5. Preference: <A or B> - <one line reasoning>
Likability: A - <rating>/5, B - <rating>/5. Preference: <A or B> - <one line reasoning>
Overall Winner: <A or B>

DO NOT GIVE ANY OTHER TEXT APART FROM THE SCORES, PREFERENCES AND OVERALL WINNER.`

// Merge combines two pieces of content into one coherent piece.
const Merge = `You are a professional editor. Merge the two %[1]ss below into a single coherent %[1]s.

Requirements:
- The result should read like a natural, single-authored %[1]s
- Maintain the key ideas from both inputs
- Create smooth transitions between topics
- Ensure consistent tone and style throughout
- Do not mention that it is a merge or reference the inputs separately

Output only the merged %[1]s text, with no preamble or explanation.`

// ForConstraintExtraction returns the system prompt for constraint extraction.
func ForConstraintExtraction(contentType string, n int) string {
	return fmt.Sprintf(ConstraintExtraction, contentType, n)
}

// ForCommonConstraintExtraction returns the system prompt for paired
// constraint extraction.
func ForCommonConstraintExtraction(contentType string, n int) string {
	return fmt.Sprintf(CommonConstraintExtraction, contentType, n)
}

// PairedInput renders two content pieces as the user prompt for paired
// extraction or merging.
func PairedInput(contentType, a, b string) string {
	caser := capitalize(contentType)
	return fmt.Sprintf("%s A:\n%s\n\n%s B:\n%s", caser, a, caser, b)
}

// ForBaseGeneration returns the system prompt for base content generation.
func ForBaseGeneration(contentType string) string {
	return fmt.Sprintf(BaseGeneration, contentType)
}

// ForFitting returns the system prompt for constraint fitting.
func ForFitting(contentType string, n int) string {
	return fmt.Sprintf(ConstraintFitting, contentType, n)
}

// FittingInput renders the user prompt for one fitting call. The constraints
// argument is the numbered-list wire form.
func FittingInput(task, baseContent, constraints string) string {
	return fmt.Sprintf("Task: %s\n\nBase Content:\n%s\n\nConstraints to satisfy:\n%s\n\nGenerate the revised content that satisfies all constraints:",
		task, baseContent, constraints)
}

// RevisionInput renders the user prompt for a revision pass that targets the
// constraints a previous evaluation found unsatisfied.
func RevisionInput(task, draft, constraints, unsatisfied string) string {
	return fmt.Sprintf("Task: %s\n\nCurrent Draft:\n%s\n\nFull constraint list:\n%s\n\nThe draft does not yet satisfy these constraints:\n%s\n\nRevise the draft so the unsatisfied constraints are met without breaking the ones already satisfied:",
		task, draft, constraints, unsatisfied)
}

// ForEvaluation returns the system prompt for constraint evaluation.
func ForEvaluation(contentType string) string {
	return fmt.Sprintf(Evaluation, contentType)
}

// EvaluationInput renders the user prompt for one evaluation call.
func EvaluationInput(contentType, content, constraints string) string {
	return fmt.Sprintf("%s:\n%s\n\nConstraints:\n%s\n\nOutput:",
		capitalize(contentType), content, constraints)
}

// ForPairwiseQuality returns the system prompt for pairwise quality judging.
func ForPairwiseQuality(contentType string) string {
	return fmt.Sprintf(PairwiseQuality, contentType, capitalize(contentType))
}

// ForMerge returns the system prompt for merging paired content.
func ForMerge(contentType string) string {
	return fmt.Sprintf(Merge, contentType)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
