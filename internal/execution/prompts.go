package execution

const thoughtPrompt = `You are a biomedical data analyst. Review this instruction to understand its purpose:

USER QUERY: %s
STEP: %s
INSTRUCTION: %s

Write a concise paragraph explaining what this step is trying to achieve in the context of the user's query.`

const codePrompt = `You are a JavaScript expert who writes correct code against the lancet data frame API to analyze biomedical data.

USER QUERY: %s
STEP PURPOSE: %s
INSTRUCTION: %s

CURRENT STATE:
%s

AVAILABLE API:
- Frames are lazy. frame.filter(column, op, value) and frame.where(...) with op one of ==, !=, <, <=, >, >= return a new frame.
- frame.isin(column, [values]), frame.notNull(column), frame.select(col1, col2), frame.sortBy(column, descending), frame.head(n) return new frames.
- frame.count(), frame.mean(col), frame.median(col), frame.sum(col), frame.min(col), frame.max(col), frame.std(col), frame.valueCounts(col) return deferred aggregates; call .compute() on them.
- frame.compute() returns {rows, columns, records}. frame.columns() lists the columns.
- lancet.mean(numbers), lancet.median(numbers), lancet.sum(numbers), lancet.round(x, digits), lancet.pct(part, whole), lancet.concat(frame1, frame2).

Write JavaScript code that:
1. Uses the variables from the current state - no need to redefine them
2. Performs the analysis described in the instruction
3. Result should be in a variable called 'result'
4. If creating a new frame named in the instruction (e.g., "Create a frame called df_filtered"), define it as indicated with that exact name
5. Follow ONLY what is in the instructions. No extra steps as it might mess up following steps.

There is no require, no filesystem and no network.
Do not add console output or comments.
Focus only on what the instruction asks for.

Return ONLY executable JavaScript code with no markdown formatting or explanation.`

const recoveryPrompt = `You are a JavaScript expert fixing code that failed with this error: %s

The failed code was:
%s

Current state:
%s

Current instruction:
%s

Only use the variables / values as per the current instruction.
If the error comes from a missing function or module, do it another way with the available API.
Fix ONLY the code to address the error while maintaining the same goal.
Do NOT add any explanation or comments.
Return ONLY the corrected code.`

const reflectionPrompt = `You are a data scientist reviewing code execution results.

USER QUERY: %s
STEP: %s
INSTRUCTION: %s
CODE EXECUTED:
%s

RESULT SUMMARY:
%s

Provide a reflection covering:
1. Did the code accomplish what was intended?
2. Are there any issues or unexpected results?
3. What logical next steps should follow?

Be concise but thorough.`

const finalCheckPrompt = `You are a biomedical data analyst making a list of variables that need a dictionary before the final analysis steps.

USER QUERY: %s

EXECUTION SUMMARY:
- Completed steps: %s
- Failed steps: %s

DETAILED EXECUTION LOG:
%s

Provide a comprehensive summary that includes:
1. Any variables that are needed to provide a useful answer. Make an array of missing variables names. (Example: [operativedeath, bmi, complication1])

ONLY provide a list of variables where further clarification is needed.
ONLY return an array of variables.
DO not explain anything or add extra text.`

const synthesisPrompt = `You are a biomedical data analyst synthesizing results from multiple analysis steps.

USER QUERY: %s

EXECUTION SUMMARY:
- Completed steps: %s
- Failed steps: %s

DETAILED EXECUTION LOG:
%s

Provide a comprehensive summary that includes:
1. What steps were performed and their purpose
2. Key findings and results discovered
3. Any limitations or errors encountered
4. A final answer to the user's original query based on available results

Be thorough but focus on answering the user's original question.`
