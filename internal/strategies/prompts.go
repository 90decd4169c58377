package strategies

// --- Translation Prompts ---
const translationSystemPrompt = "You are a professional translator. You translate text faithfully into the requested language, keeping its meaning, tone and level of detail. You return only the translation."

const translationUserPrompt = `Translate the following text into %s.

Rules:
1.  Return ONLY the translated text. Do not add notes, quotes, explanations or a preamble such as "Here is the translation".
2.  Keep names, numbers, units and formulas unchanged.
3.  If the text is already in %s, return it unchanged.

Text:
%s`

// --- Natural Narration Prompts ---
const naturalSystemPrompt = "You are an expert script writer who adapts written documents so they sound natural when read aloud by a single narrator. Accuracy and information preservation are of utmost importance."

const naturalUserPrompt = `Rewrite the passage below so it sounds natural when spoken, in %s.

Follow these instructions:
1.  Keep every fact, figure and argument. Do not summarize and do not add new content.
2.  Turn tables, lists and citations into flowing spoken sentences. Drop citation markers such as [12] and figure references that only make sense on paper.
3.  Expand abbreviations and symbols the first time they appear.
4.  Write plain paragraphs separated by a blank line. No headings, no markdown, no bullet points.
5.  Continue smoothly from the preceding narration if any is given; do not repeat it.

Return ONLY the rewritten passage.

Preceding narration (for continuity only):
%s

Passage:
%s`

// --- Lecture Prompts ---
const lecturePlanSystemPrompt = "You are an experienced university lecturer planning a spoken lecture based on a document. You must output your response as a valid JSON array of strings."

const lecturePlanUserPrompt = `Read the document below and choose exactly %d key topics for a lecture about it.

Rules:
1.  Each topic is a short title of at most eight words, written in %s.
2.  Topics follow the order in which the document presents the ideas.
3.  Do not include an introduction or a conclusion topic; those are added separately.
4.  Output ONLY a JSON array of strings, for example ["First topic", "Second topic"]. Do not include any text before or after the array.

Document:
%s`

const lectureSystemPrompt = "You are an engaging university lecturer. You explain documents to an audience of interested non-specialists in a clear, spoken style. Your script is read aloud by a text-to-speech voice."

const lectureUserPrompt = `Write the complete script of a spoken lecture in %s about the document below.

The lecture has exactly these sections, in this order. Start every section with its marker line written exactly as shown, alone on its own line:
%s

Rules:
1.  Write the whole lecture in one pass. Every section must appear, each with its marker line.
2.  Under each marker write plain spoken paragraphs separated by blank lines. No markdown, no lists, no headings other than the marker lines.
3.  Stay faithful to the document. Explain, give intuition and examples, but never invent results.
4.  Do not repeat yourself. When a section is finished, move on to the next marker.

Document:
%s`

// --- Conversation Prompts ---
const conversationSystemPrompt = "You are a podcast script writer. You turn documents into lively, accurate conversations between two speakers: a host who asks questions and a guest expert who explains. You must output your response as a single valid JSON object."

const conversationUserPrompt = `Turn the document below into a two-person podcast conversation in %s.

Rules:
1.  There are exactly two speakers: "host" and "guest". They strictly alternate, starting with the host. Never give the same speaker two turns in a row.
2.  Group the conversation into sections that follow the structure of the document, each with a short title.
3.  Cover every important point of the document. Do not invent facts.
4.  Each turn is one to four spoken sentences. No markdown and no stage directions.
5.  Escape any double quotes inside the text with a backslash.

Output format:
{"sections": [{"title": "Introduction", "turns": [{"speaker": "host", "text": "..."}, {"speaker": "guest", "text": "..."}]}]}

Document:
%s`
